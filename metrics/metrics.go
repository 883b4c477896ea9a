package metrics

import (
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the earning engine's instruments.
type AppMetrics struct {
	TicksTotal        metric.Int64Counter
	TickDuration      metric.Float64Histogram
	TickErrorsTotal   metric.Int64Counter
	EventTransitions  metric.Int64Counter
	EventPayoutsTotal metric.Int64Counter
	EncounterCredits  metric.Int64Counter
	AmbientCredits    metric.Int64Counter
	LedgerOpsTotal    metric.Int64Counter
	LedgerContention  metric.Int64Counter
	ActiveActors      metric.Int64Gauge
}

var (
	appMetrics *AppMetrics
	initErr    error
	once       sync.Once
)

// Init creates the instruments once from the global MeterProvider.
// Call it after the provider is installed; before that the instruments are no-ops.
func Init() error {
	once.Do(func() {
		appMetrics, initErr = build(otel.GetMeterProvider().Meter("grubs-service"))
	})
	return initErr
}

// Get returns the instruments, falling back to no-op ones when Init was never called.
func Get() *AppMetrics {
	if err := Init(); err != nil || appMetrics == nil {
		m, _ := build(otel.GetMeterProvider().Meter("grubs-service"))
		return m
	}
	return appMetrics
}

func build(meter metric.Meter) (*AppMetrics, error) {
	m := &AppMetrics{}
	var err error

	if m.TicksTotal, err = meter.Int64Counter("grubs_ticks_total",
		metric.WithDescription("Completed scheduler ticks"),
		metric.WithUnit("{tick}")); err != nil {
		return nil, errors.Wrap(err, "grubs_ticks_total")
	}
	if m.TickDuration, err = meter.Float64Histogram("grubs_tick_duration_seconds",
		metric.WithDescription("Duration of a scheduler tick"),
		metric.WithUnit("s")); err != nil {
		return nil, errors.Wrap(err, "grubs_tick_duration_seconds")
	}
	if m.TickErrorsTotal, err = meter.Int64Counter("grubs_tick_errors_total",
		metric.WithDescription("Per-entity errors collected by ticks"),
		metric.WithUnit("{error}")); err != nil {
		return nil, errors.Wrap(err, "grubs_tick_errors_total")
	}
	if m.EventTransitions, err = meter.Int64Counter("grubs_event_transitions_total",
		metric.WithDescription("Event lifecycle transitions by target status"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, errors.Wrap(err, "grubs_event_transitions_total")
	}
	if m.EventPayoutsTotal, err = meter.Int64Counter("grubs_event_payouts_total",
		metric.WithDescription("Per-minute attendee payouts"),
		metric.WithUnit("{payout}")); err != nil {
		return nil, errors.Wrap(err, "grubs_event_payouts_total")
	}
	if m.EncounterCredits, err = meter.Int64Counter("grubs_encounter_credits_total",
		metric.WithDescription("Encounter rewards credited"),
		metric.WithUnit("{credit}")); err != nil {
		return nil, errors.Wrap(err, "grubs_encounter_credits_total")
	}
	if m.AmbientCredits, err = meter.Int64Counter("grubs_ambient_credits_total",
		metric.WithDescription("Ambient proximity credits"),
		metric.WithUnit("{credit}")); err != nil {
		return nil, errors.Wrap(err, "grubs_ambient_credits_total")
	}
	if m.LedgerOpsTotal, err = meter.Int64Counter("grubs_ledger_operations_total",
		metric.WithDescription("Ledger credits and debits by type and outcome"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, errors.Wrap(err, "grubs_ledger_operations_total")
	}
	if m.LedgerContention, err = meter.Int64Counter("grubs_ledger_contention_total",
		metric.WithDescription("Ledger operations that hit the per-actor lock timeout"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, errors.Wrap(err, "grubs_ledger_contention_total")
	}
	if m.ActiveActors, err = meter.Int64Gauge("grubs_active_actors",
		metric.WithDescription("Actors with a fresh position at the last tick"),
		metric.WithUnit("{actor}")); err != nil {
		return nil, errors.Wrap(err, "grubs_active_actors")
	}
	return m, nil
}
