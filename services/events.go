package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"grubs-service/metrics"
	"grubs-service/models"
	"grubs-service/repository"
	"grubs-service/utils"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventRepository is the slice of storage the event lifecycle needs.
type EventRepository interface {
	repository.ActorStore
	repository.EventStore
}

const (
	DefaultRadiusMeters = 100
	MinRadiusMeters     = 10
	MaxRadiusMeters     = 10000
	MaxEventNameLength  = 200
	MinAttendanceFloor  = 2
)

// EventService drives the event state machine, attendance tracking and per-tick payouts.
type EventService struct {
	Store        EventRepository
	Ledger       *LedgerService
	TickInterval time.Duration
	Workers      int
	MaxTries     uint
	Log          *zap.Logger
	Metrics      *metrics.AppMetrics

	groups *cache.Cache
}

func NewEventService(store EventRepository, ledger *LedgerService, tickInterval time.Duration, workers int, log *zap.Logger) *EventService {
	if tickInterval <= 0 {
		tickInterval = time.Minute
	}
	if workers < 1 {
		workers = 1
	}
	return &EventService{
		Store:        store,
		Ledger:       ledger,
		TickInterval: tickInterval,
		Workers:      workers,
		MaxTries:     3,
		Log:          log,
		Metrics:      metrics.Get(),
		groups:       cache.New(5*time.Minute, 10*time.Minute),
	}
}

// group returns the group defaults, read through a short-lived cache.
func (s *EventService) group(ctx context.Context, id string) (*models.Group, error) {
	if v, ok := s.groups.Get(id); ok {
		return v.(*models.Group), nil
	}
	g, err := s.Store.GetGroup(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	s.groups.SetDefault(id, g)
	return g, nil
}

func (s *EventService) event(ctx context.Context, id string) (*models.Event, error) {
	ev, err := s.Store.GetEvent(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	return ev, err
}

func (s *EventService) membership(ctx context.Context, groupID, userID string) (*models.Membership, error) {
	m, err := s.Store.GetMembership(ctx, groupID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotAMember
	}
	return m, err
}

func (s *EventService) requireManager(ctx context.Context, groupID, userID string) error {
	m, err := s.membership(ctx, groupID, userID)
	if errors.Is(err, ErrNotAMember) {
		return ErrNotAdmin
	}
	if err != nil {
		return err
	}
	if !m.Role.CanManageEvents() {
		return ErrNotAdmin
	}
	return nil
}

func (s *EventService) countTransition(ctx context.Context, to models.EventStatus, n int) {
	if s.Metrics == nil || n == 0 {
		return
	}
	s.Metrics.EventTransitions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("to", string(to))))
}

// StepResult is the outcome of one lifecycle step over all matching events.
type StepResult struct {
	Count  int
	Errors []string
}

// forEachEvent runs fn over events with bounded concurrency. fn returns a fatal error to abort
// the step; per-event failures go through the report callback.
func (s *EventService) forEachEvent(ctx context.Context, events []models.Event, fn func(ctx context.Context, ev models.Event, res *StepResult) error) (StepResult, error) {
	var (
		mu  sync.Mutex
		out StepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers)
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			var local StepResult
			if err := fn(gctx, ev, &local); err != nil {
				return err
			}
			mu.Lock()
			out.Count += local.Count
			out.Errors = append(out.Errors, local.Errors...)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return out, err
}

// ActivateDue promotes scheduled events whose start time has passed.
func (s *EventService) ActivateDue(ctx context.Context, now time.Time) (StepResult, error) {
	events, err := s.Store.ListEvents(ctx, repository.EventFilter{
		Statuses:         []models.EventStatus{models.EventStatusScheduled},
		StartsAtOrBefore: &now,
	})
	if err != nil {
		return StepResult{}, errors.Wrap(err, "list due events")
	}
	res, err := s.forEachEvent(ctx, events, func(ctx context.Context, ev models.Event, res *StepResult) error {
		ok, err := s.Store.TransitionEvent(ctx, ev.ID, []models.EventStatus{models.EventStatusScheduled}, models.EventStatusActive, now)
		if err != nil {
			return errors.Wrapf(err, "activate event %s", ev.ID)
		}
		if ok {
			res.Count++
			s.Log.Info("[Events] activated", zap.String("event_id", ev.ID), zap.String("name", ev.Name))
		}
		return nil
	})
	s.countTransition(ctx, models.EventStatusActive, res.Count)
	return res, err
}

// EvaluateConfirmations confirms active events that have reached their attendance threshold.
func (s *EventService) EvaluateConfirmations(ctx context.Context, now time.Time) (StepResult, error) {
	events, err := s.Store.ListEvents(ctx, repository.EventFilter{
		Statuses: []models.EventStatus{models.EventStatusActive},
	})
	if err != nil {
		return StepResult{}, errors.Wrap(err, "list active events")
	}
	res, err := s.forEachEvent(ctx, events, func(ctx context.Context, ev models.Event, res *StepResult) error {
		ok, err := s.evaluateConfirmation(ctx, &ev, now)
		if errors.Is(err, ErrGroupNotFound) {
			res.Errors = append(res.Errors, fmt.Sprintf("event %s: %v", ev.ID, err))
			return nil
		}
		if err != nil {
			return err
		}
		if ok {
			res.Count++
		}
		return nil
	})
	s.countTransition(ctx, models.EventStatusConfirmed, res.Count)
	return res, err
}

// evaluateConfirmation is the single active→confirmed check shared by the tick, check-ins and pings.
// It only moves an event that is still active, so concurrent callers confirm it at most once.
func (s *EventService) evaluateConfirmation(ctx context.Context, ev *models.Event, now time.Time) (bool, error) {
	if ev.Status != models.EventStatusActive {
		return false, nil
	}
	g, err := s.group(ctx, ev.GroupID)
	if err != nil {
		return false, err
	}
	count, err := s.Store.CountWithinRadius(ctx, ev.ID)
	if err != nil {
		return false, errors.Wrapf(err, "count attendance for %s", ev.ID)
	}
	threshold := ev.EffectiveMinAttendance(g)
	if count < int64(threshold) {
		return false, nil
	}
	ok, err := s.Store.TransitionEvent(ctx, ev.ID, []models.EventStatus{models.EventStatusActive}, models.EventStatusConfirmed, now)
	if err != nil {
		return false, errors.Wrapf(err, "confirm event %s", ev.ID)
	}
	if ok {
		s.Log.Info("[Events] confirmed",
			zap.String("event_id", ev.ID),
			zap.Int64("attendance", count),
			zap.Int("threshold", threshold))
	}
	return ok, nil
}

// PayConfirmed credits one tick's worth of the effective rate to every attendee inside the
// geofence of every confirmed event that has not reached its end time.
func (s *EventService) PayConfirmed(ctx context.Context, now time.Time) (StepResult, error) {
	events, err := s.Store.ListEvents(ctx, repository.EventFilter{
		Statuses:  []models.EventStatus{models.EventStatusConfirmed},
		EndsAfter: &now,
	})
	if err != nil {
		return StepResult{}, errors.Wrap(err, "list confirmed events")
	}
	res, err := s.forEachEvent(ctx, events, func(ctx context.Context, ev models.Event, res *StepResult) error {
		return s.payEvent(ctx, ev, now, res)
	})
	if s.Metrics != nil && res.Count > 0 {
		s.Metrics.EventPayoutsTotal.Add(ctx, int64(res.Count))
	}
	return res, err
}

func (s *EventService) payEvent(ctx context.Context, ev models.Event, now time.Time, res *StepResult) error {
	g, err := s.group(ctx, ev.GroupID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("event %s: %v", ev.ID, err))
		return nil
	}
	checkins, err := s.Store.ListCheckins(ctx, ev.ID)
	if err != nil {
		return errors.Wrapf(err, "list check-ins for %s", ev.ID)
	}

	seconds := int64(s.TickInterval / time.Second)
	amount := ev.EffectiveRate(g).Mul(decimal.NewFromInt(seconds)).Div(decimal.NewFromInt(60)).Round(AmountPlaces)
	slot := TickSlot(now, s.TickInterval)

	for _, c := range checkins {
		if !c.IsWithinRadius || c.CheckedOutAt != nil {
			continue
		}
		credit, err := s.Ledger.creditWithRetry(ctx, LedgerEntry{
			ActorID:        c.UserID,
			Amount:         amount,
			Type:           models.TxEventEarning,
			Reference:      &models.Reference{Kind: models.RefEvent, ID: ev.ID},
			Description:    "Earned from: " + ev.Name,
			IdempotencyKey: fmt.Sprintf("event:%s:%s:%d", ev.ID, c.UserID, slot),
			At:             now,
		}, s.MaxTries)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("event %s: payout %s: %v", ev.ID, c.UserID, err))
			s.Log.Warn("[Events] payout failed",
				zap.String("event_id", ev.ID),
				zap.String("actor_id", c.UserID),
				zap.Error(err))
			continue
		}
		if credit.Replayed {
			continue
		}
		if err := s.Store.RecordPresence(ctx, c.ID, seconds, amount); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("event %s: record presence %s: %v", ev.ID, c.UserID, err))
		}
		res.Count++
	}
	return nil
}

// CloseEnded ends every active or confirmed event whose end time has passed and checks out its attendees.
func (s *EventService) CloseEnded(ctx context.Context, now time.Time) (StepResult, error) {
	events, err := s.Store.ListEvents(ctx, repository.EventFilter{
		Statuses:       []models.EventStatus{models.EventStatusActive, models.EventStatusConfirmed},
		EndsAtOrBefore: &now,
	})
	if err != nil {
		return StepResult{}, errors.Wrap(err, "list ending events")
	}
	res, err := s.forEachEvent(ctx, events, func(ctx context.Context, ev models.Event, res *StepResult) error {
		ended, closed, err := s.Store.EndEvent(ctx, ev.ID, now)
		if err != nil {
			return errors.Wrapf(err, "end event %s", ev.ID)
		}
		if ended {
			res.Count++
			s.Log.Info("[Events] ended", zap.String("event_id", ev.ID), zap.Int64("checked_out", closed))
		}
		return nil
	})
	s.countTransition(ctx, models.EventStatusEnded, res.Count)
	return res, err
}

// --- attendance ---

type AttendanceResult struct {
	CheckinID      string    `json:"checkin_id"`
	CheckedInAt    time.Time `json:"checked_in_at"`
	IsWithinRadius bool      `json:"is_within_radius"`
	// EventConfirmed is true when this call moved the event to confirmed.
	EventConfirmed bool `json:"event_confirmed"`
}

// CheckIn records the actor's attendance. Only members may check in, only once, and only
// while the event is active or confirmed.
func (s *EventService) CheckIn(ctx context.Context, eventID, actorID string, lat, lon float64, now time.Time) (*AttendanceResult, error) {
	if !utils.ValidCoordinates(lat, lon) {
		return nil, ErrInvalidCoordinates
	}
	ev, err := s.event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := s.membership(ctx, ev.GroupID, actorID); err != nil {
		return nil, err
	}
	if !ev.Status.AcceptsAttendance() {
		return nil, errors.Wrapf(ErrEventNotAcceptingCheckins, "event is %s", ev.Status)
	}
	if _, err := s.Store.GetCheckin(ctx, eventID, actorID); err == nil {
		return nil, ErrAlreadyCheckedIn
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	within := utils.IsWithinRadius(lat, lon, ev.Latitude, ev.Longitude, float64(ev.RadiusMeters))
	c := &models.EventCheckin{
		EventID:          eventID,
		UserID:           actorID,
		CheckedInAt:      now,
		IsWithinRadius:   within,
		LastLocationPing: now,
		CurrencyEarned:   decimal.Zero,
	}
	if err := s.Store.CreateCheckin(ctx, c); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyCheckedIn
		}
		return nil, err
	}

	res := &AttendanceResult{CheckinID: c.ID, CheckedInAt: c.CheckedInAt, IsWithinRadius: within}
	if within {
		if res.EventConfirmed, err = s.evaluateConfirmation(ctx, ev, now); err != nil {
			return nil, err
		}
		s.countTransition(ctx, models.EventStatusConfirmed, boolToInt(res.EventConfirmed))
	}
	s.Log.Info("[Events] check-in",
		zap.String("event_id", eventID),
		zap.String("actor_id", actorID),
		zap.Bool("within_radius", within))
	return res, nil
}

// Ping refreshes an existing check-in's presence inside the geofence.
func (s *EventService) Ping(ctx context.Context, eventID, actorID string, lat, lon float64, now time.Time) (*AttendanceResult, error) {
	if !utils.ValidCoordinates(lat, lon) {
		return nil, ErrInvalidCoordinates
	}
	ev, err := s.event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ev.Status.AcceptsAttendance() {
		return nil, errors.Wrapf(ErrEventNotAcceptingPings, "event is %s", ev.Status)
	}
	c, err := s.Store.GetCheckin(ctx, eventID, actorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotCheckedIn
	}
	if err != nil {
		return nil, err
	}

	within := utils.IsWithinRadius(lat, lon, ev.Latitude, ev.Longitude, float64(ev.RadiusMeters))
	if err := s.Store.UpdateCheckinPresence(ctx, c.ID, within, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Checked out between the status read and the update.
			return nil, ErrEventNotAcceptingPings
		}
		return nil, err
	}

	res := &AttendanceResult{CheckinID: c.ID, CheckedInAt: c.CheckedInAt, IsWithinRadius: within}
	if within {
		if res.EventConfirmed, err = s.evaluateConfirmation(ctx, ev, now); err != nil {
			return nil, err
		}
		s.countTransition(ctx, models.EventStatusConfirmed, boolToInt(res.EventConfirmed))
	}
	return res, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- management ---

type EventInput struct {
	Name          string
	Description   string
	Latitude      float64
	Longitude     float64
	RadiusMeters  int
	StartsAt      time.Time
	EndsAt        time.Time
	MinAttendance *int
	CurrencyRate  *decimal.Decimal
}

func validateEvent(e *models.Event) error {
	name := strings.TrimSpace(e.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxEventNameLength {
		return errors.Wrapf(ErrInvalidEvent, "name must be 1-%d characters", MaxEventNameLength)
	}
	e.Name = name
	if !utils.ValidCoordinates(e.Latitude, e.Longitude) {
		return errors.Wrap(ErrInvalidEvent, "coordinates out of range")
	}
	if e.RadiusMeters < MinRadiusMeters || e.RadiusMeters > MaxRadiusMeters {
		return errors.Wrapf(ErrInvalidEvent, "radius must be between %d and %d meters", MinRadiusMeters, MaxRadiusMeters)
	}
	if e.StartsAt.IsZero() || e.EndsAt.IsZero() {
		return errors.Wrap(ErrInvalidEvent, "start and end times are required")
	}
	if !e.EndsAt.After(e.StartsAt) {
		return errors.Wrap(ErrInvalidEvent, "end time must be after start time")
	}
	if e.MinAttendance != nil && *e.MinAttendance < MinAttendanceFloor {
		return errors.Wrapf(ErrInvalidEvent, "minimum attendance must be at least %d", MinAttendanceFloor)
	}
	if e.CurrencyRate != nil {
		r := e.CurrencyRate.Round(AmountPlaces)
		if !r.IsPositive() {
			return errors.Wrap(ErrInvalidEvent, "currency rate must be positive")
		}
		e.CurrencyRate = &r
	}
	return nil
}

// CreateEvent schedules a new event in the group. Owners and admins only.
func (s *EventService) CreateEvent(ctx context.Context, groupID, creatorID string, in EventInput, now time.Time) (*models.Event, error) {
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, groupID, creatorID); err != nil {
		return nil, err
	}
	radius := in.RadiusMeters
	if radius == 0 {
		radius = DefaultRadiusMeters
	}
	ev := &models.Event{
		GroupID:       groupID,
		CreatedBy:     creatorID,
		Name:          in.Name,
		Description:   in.Description,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		RadiusMeters:  radius,
		StartsAt:      in.StartsAt.UTC(),
		EndsAt:        in.EndsAt.UTC(),
		Status:        models.EventStatusScheduled,
		MinAttendance: in.MinAttendance,
		CurrencyRate:  in.CurrencyRate,
	}
	ev.CreatedAt, ev.UpdatedAt = now, now
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	if err := s.Store.CreateEvent(ctx, ev); err != nil {
		return nil, errors.Wrap(err, "create event")
	}
	s.Log.Info("[Events] created",
		zap.String("event_id", ev.ID),
		zap.String("group_id", groupID),
		zap.Time("starts_at", ev.StartsAt))
	return ev, nil
}

// UpdateEvent applies an edit. Geometry, timing and thresholds are frozen once the event leaves scheduled.
func (s *EventService) UpdateEvent(ctx context.Context, eventID, actorID string, patch models.EventPatch, now time.Time) (*models.Event, error) {
	ev, err := s.event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, ev.GroupID, actorID); err != nil {
		return nil, err
	}
	if ev.Status != models.EventStatusScheduled {
		return nil, ErrEventFrozen
	}
	patch.Apply(ev)
	ev.StartsAt, ev.EndsAt = ev.StartsAt.UTC(), ev.EndsAt.UTC()
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	ev.UpdatedAt = now
	if err := s.Store.UpdateScheduledEvent(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEventFrozen
		}
		return nil, errors.Wrap(err, "update event")
	}
	return ev, nil
}

// CancelEvent moves any event that has not ended to cancelled. Open check-ins stay as they are;
// they stop earning because only confirmed events pay.
func (s *EventService) CancelEvent(ctx context.Context, eventID, actorID string, now time.Time) (*models.Event, error) {
	ev, err := s.event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, ev.GroupID, actorID); err != nil {
		return nil, err
	}
	from := []models.EventStatus{models.EventStatusScheduled, models.EventStatusActive, models.EventStatusConfirmed}
	ok, err := s.Store.TransitionEvent(ctx, eventID, from, models.EventStatusCancelled, now)
	if err != nil {
		return nil, errors.Wrap(err, "cancel event")
	}
	if !ok {
		return nil, ErrEventNotCancellable
	}
	ev.Status = models.EventStatusCancelled
	s.countTransition(ctx, models.EventStatusCancelled, 1)
	s.Log.Info("[Events] cancelled", zap.String("event_id", eventID), zap.String("by", actorID))
	return ev, nil
}

// --- reads ---

type Attendee struct {
	UserID              string          `json:"user_id"`
	Name                string          `json:"name"`
	CheckedInAt         time.Time       `json:"checked_in_at"`
	CheckedOutAt        *time.Time      `json:"checked_out_at,omitempty"`
	IsWithinRadius      bool            `json:"is_within_radius"`
	LastLocationPing    time.Time       `json:"last_location_ping"`
	TotalSecondsPresent int64           `json:"total_seconds_present"`
	CurrencyEarned      decimal.Decimal `json:"currency_earned"`
}

type AttendeeList struct {
	Attendees     []Attendee `json:"attendees"`
	Total         int        `json:"total"`
	ActiveCount   int        `json:"active_count"`
	MinAttendance int        `json:"min_attendance"`
}

// Attendees lists check-ins in arrival order. Members only.
func (s *EventService) Attendees(ctx context.Context, eventID, viewerID string) (*AttendeeList, error) {
	ev, err := s.event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := s.membership(ctx, ev.GroupID, viewerID); err != nil {
		return nil, err
	}
	g, err := s.group(ctx, ev.GroupID)
	if err != nil {
		return nil, err
	}
	checkins, err := s.Store.ListCheckins(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(checkins))
	for i, c := range checkins {
		ids[i] = c.UserID
	}
	users, err := s.Store.GetActors(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := &AttendeeList{Attendees: make([]Attendee, 0, len(checkins)), MinAttendance: ev.EffectiveMinAttendance(g)}
	for _, c := range checkins {
		out.Attendees = append(out.Attendees, Attendee{
			UserID:              c.UserID,
			Name:                users[c.UserID].Name,
			CheckedInAt:         c.CheckedInAt,
			CheckedOutAt:        c.CheckedOutAt,
			IsWithinRadius:      c.IsWithinRadius,
			LastLocationPing:    c.LastLocationPing,
			TotalSecondsPresent: c.TotalSecondsPresent,
			CurrencyEarned:      c.CurrencyEarned,
		})
		if c.IsWithinRadius && c.CheckedOutAt == nil {
			out.ActiveCount++
		}
	}
	out.Total = len(out.Attendees)
	return out, nil
}

type EventDetails struct {
	Event         *models.Event        `json:"event"`
	EffectiveRate decimal.Decimal      `json:"effective_rate"`
	MinAttendance int                  `json:"min_attendance"`
	ActiveCount   int64                `json:"active_count"`
	CanManage     bool                 `json:"can_manage"`
	MyCheckin     *models.EventCheckin `json:"my_checkin,omitempty"`
}

// Details returns the event with its effective settings and the viewer's own check-in. Members only.
func (s *EventService) Details(ctx context.Context, eventID, viewerID string) (*EventDetails, error) {
	ev, err := s.event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	m, err := s.membership(ctx, ev.GroupID, viewerID)
	if err != nil {
		return nil, err
	}
	g, err := s.group(ctx, ev.GroupID)
	if err != nil {
		return nil, err
	}
	count, err := s.Store.CountWithinRadius(ctx, eventID)
	if err != nil {
		return nil, err
	}
	d := &EventDetails{
		Event:         ev,
		EffectiveRate: ev.EffectiveRate(g),
		MinAttendance: ev.EffectiveMinAttendance(g),
		ActiveCount:   count,
		CanManage:     m.Role.CanManageEvents(),
	}
	c, err := s.Store.GetCheckin(ctx, eventID, viewerID)
	switch {
	case err == nil:
		d.MyCheckin = c
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	return d, nil
}

// GroupEvents lists a group's events, optionally filtered by status or to those not yet over.
func (s *EventService) GroupEvents(ctx context.Context, groupID, viewerID string, status models.EventStatus, upcoming bool, now time.Time) ([]models.Event, error) {
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, err
	}
	if _, err := s.membership(ctx, groupID, viewerID); err != nil {
		return nil, err
	}
	f := repository.EventFilter{GroupID: groupID}
	if status != "" {
		f.Statuses = []models.EventStatus{status}
	}
	if upcoming {
		f.EndsAfter = &now
	}
	events, err := s.Store.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}
