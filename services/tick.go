package services

import (
	"context"
	"time"

	"grubs-service/config"
	"grubs-service/lease"
	"grubs-service/metrics"
	"grubs-service/repository"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TickLeaseName is the fixed lease key that keeps ticks from overlapping.
const TickLeaseName = "tick"

type EncounterSummary struct {
	Pairs     int `json:"pairs"`
	Created   int `json:"created"`
	Credited  int `json:"credited"`
	Reset     int `json:"reset"`
	Restarted int `json:"restarted"`
}

type AmbientSummary struct {
	Near     int `json:"near"`
	Credited int `json:"credited"`
}

type TickResult struct {
	At        time.Time         `json:"at"`
	Scheme    string            `json:"scheme"`
	Activated int               `json:"activated"`
	Confirmed int               `json:"confirmed"`
	Payouts   int               `json:"payouts"`
	Ended     int               `json:"ended"`
	Active    int               `json:"active_actors"`
	Encounter *EncounterSummary `json:"encounter,omitempty"`
	Ambient   *AmbientSummary   `json:"ambient,omitempty"`
	Errors    []string          `json:"errors"`
}

// Err folds the per-entity errors into one error, or nil when the tick was clean.
func (r *TickResult) Err() error {
	var err error
	for _, e := range r.Errors {
		err = multierr.Append(err, errors.New(e))
	}
	return err
}

// TickDriver runs one scheduler period: event promotions, payouts and closeout first,
// then the proximity pass of the configured earning scheme.
type TickDriver struct {
	Actors       repository.ActorStore
	Events       *EventService
	Encounters   *EncounterEngine
	Ambient      *AmbientTick
	Scheme       config.EarningScheme
	ActiveWindow time.Duration
	Locker       lease.Locker
	LeaseTTL     time.Duration
	Log          *zap.Logger
	Metrics      *metrics.AppMetrics
}

func NewTickDriver(actors repository.ActorStore, events *EventService, encounters *EncounterEngine, ambient *AmbientTick,
	scheme config.EarningScheme, activeWindow time.Duration, locker lease.Locker, log *zap.Logger) *TickDriver {
	return &TickDriver{
		Actors:       actors,
		Events:       events,
		Encounters:   encounters,
		Ambient:      ambient,
		Scheme:       scheme,
		ActiveWindow: activeWindow,
		Locker:       locker,
		LeaseTTL:     5 * time.Minute,
		Log:          log,
		Metrics:      metrics.Get(),
	}
}

// RunTick executes one tick at now. It returns ErrTickInProgress when another run holds the
// lease. A storage failure aborts the tick and is returned alongside the partial counts; the
// next period picks up from persisted state.
func (d *TickDriver) RunTick(ctx context.Context, now time.Time) (*TickResult, error) {
	// Postgres keeps microseconds; CAS comparisons on stored timestamps need the same precision.
	now = now.UTC().Truncate(time.Microsecond)

	l, err := d.Locker.Acquire(ctx, TickLeaseName, d.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		return nil, ErrTickInProgress
	}
	if err != nil {
		return nil, errors.Wrap(err, "acquire tick lease")
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx); err != nil {
			d.Log.Warn("[Tick] lease release failed", zap.Error(err))
		}
	}()

	started := time.Now()
	res := &TickResult{At: now, Scheme: string(d.Scheme), Errors: []string{}}
	err = d.run(ctx, now, res)
	d.record(ctx, res, err, time.Since(started))

	if err != nil {
		d.Log.Error("[Tick] aborted", zap.Time("at", now), zap.Error(err))
		return res, err
	}
	fields := []zap.Field{
		zap.Time("at", now),
		zap.Int("activated", res.Activated),
		zap.Int("confirmed", res.Confirmed),
		zap.Int("payouts", res.Payouts),
		zap.Int("ended", res.Ended),
		zap.Int("active_actors", res.Active),
	}
	if perr := res.Err(); perr != nil {
		d.Log.Warn("[Tick] completed with errors", append(fields, zap.Error(perr))...)
	} else {
		d.Log.Info("[Tick] completed", fields...)
	}
	return res, nil
}

func (d *TickDriver) run(ctx context.Context, now time.Time, res *TickResult) error {
	steps := []struct {
		name string
		fn   func(context.Context, time.Time) (StepResult, error)
		into *int
	}{
		{"activate", d.Events.ActivateDue, &res.Activated},
		{"confirm", d.Events.EvaluateConfirmations, &res.Confirmed},
		{"payout", d.Events.PayConfirmed, &res.Payouts},
		{"close", d.Events.CloseEnded, &res.Ended},
	}
	for _, st := range steps {
		sr, err := st.fn(ctx, now)
		*st.into = sr.Count
		res.Errors = append(res.Errors, sr.Errors...)
		if err != nil {
			return errors.Wrapf(err, "%s step", st.name)
		}
	}

	actors, err := d.Actors.ActiveActors(ctx, now.Add(-d.ActiveWindow))
	if err != nil {
		return errors.Wrap(err, "load active actors")
	}
	res.Active = len(actors)

	switch d.Scheme {
	case config.SchemeAmbient:
		ar, err := d.Ambient.Run(ctx, actors, now)
		res.Ambient = &AmbientSummary{Near: ar.Near, Credited: ar.Credited}
		res.Errors = append(res.Errors, ar.Errors...)
		if err != nil {
			return errors.Wrap(err, "ambient pass")
		}
	default:
		er, err := d.Encounters.Run(ctx, actors, now)
		res.Encounter = &EncounterSummary{Pairs: er.Pairs, Created: er.Created, Credited: er.Credited, Reset: er.Reset, Restarted: er.Restarted}
		res.Errors = append(res.Errors, er.Errors...)
		if err != nil {
			return errors.Wrap(err, "encounter pass")
		}
	}
	return nil
}

func (d *TickDriver) record(ctx context.Context, res *TickResult, err error, took time.Duration) {
	if d.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "aborted"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("scheme", res.Scheme))
	d.Metrics.TicksTotal.Add(ctx, 1, attrs)
	d.Metrics.TickDuration.Record(ctx, took.Seconds(), attrs)
	if n := len(res.Errors); n > 0 {
		d.Metrics.TickErrorsTotal.Add(ctx, int64(n))
	}
	d.Metrics.ActiveActors.Record(ctx, int64(res.Active))
}
