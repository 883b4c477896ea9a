package repository

import (
	"context"
	"time"

	"grubs-service/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrConflict   = errors.New("record already exists or changed concurrently")
	ErrContention = errors.New("lock wait timed out")
)

// BuildFunc receives the actor's balance read under the ledger lock and returns the
// row to append. Returning an error aborts the operation without writing anything.
type BuildFunc func(balance decimal.Decimal) (*models.Transaction, error)

type ActorStore interface {
	GetActor(ctx context.Context, id string) (*models.User, error)
	GetActors(ctx context.Context, ids []string) (map[string]models.User, error)
	// UpdatePosition stores a report unless a newer one is already recorded.
	// The returned user reflects the stored state either way.
	UpdatePosition(ctx context.Context, id string, lat, lon float64, at time.Time) (*models.User, error)
	// ActiveActors returns actors with a position reported at or after since that belong to at least one group.
	ActiveActors(ctx context.Context, since time.Time) ([]models.ActiveActor, error)
	SetNearOthers(ctx context.Context, flags map[string]bool) error
	// ClearStaleNearOthers resets the flag for actors not seen since before.
	ClearStaleNearOthers(ctx context.Context, before time.Time) (int64, error)

	GetGroup(ctx context.Context, id string) (*models.Group, error)
	GetGroupBySlug(ctx context.Context, slug string) (*models.Group, error)
	GetMembership(ctx context.Context, groupID, userID string) (*models.Membership, error)
	MembershipsOf(ctx context.Context, userID string) ([]models.Membership, error)
}

type TransactionFilter struct {
	UserID string
	Type   models.TransactionType // empty matches all
	Offset int
	Limit  int
}

type DailyTotal struct {
	Day   time.Time // UTC midnight
	Total decimal.Decimal
}

type LeaderboardEntry struct {
	UserID string          `gorm:"column:user_id"`
	Name   string          `gorm:"column:name"`
	Total  decimal.Decimal `gorm:"column:total"`
}

// BalanceDrift is an actor whose stored balance disagrees with the sum of their ledger rows.
type BalanceDrift struct {
	UserID    string          `gorm:"column:user_id"`
	Balance   decimal.Decimal `gorm:"column:balance"`
	LedgerSum decimal.Decimal `gorm:"column:ledger_sum"`
}

type LedgerStore interface {
	// Apply runs one ledger mutation atomically under the actor's lock. When key is set and a
	// row with that key exists, the existing row is returned with replayed=true and nothing is written.
	Apply(ctx context.Context, actorID, key string, build BuildFunc) (tx *models.Transaction, replayed bool, err error)
	Balance(ctx context.Context, actorID string) (decimal.Decimal, error)
	// ListTransactions returns one page, newest first, plus the total matching count.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, int64, error)
	// TransactionsBetween returns every row created in [from, to) in creation order.
	TransactionsBetween(ctx context.Context, from, to time.Time) ([]models.Transaction, error)
	// SumEarnings adds up positive amounts of the given types created at or after since.
	SumEarnings(ctx context.Context, actorID string, types []models.TransactionType, since time.Time) (decimal.Decimal, error)
	// EarningDays returns per-UTC-day positive totals since the given time, oldest first.
	EarningDays(ctx context.Context, actorID string, types []models.TransactionType, since time.Time) ([]DailyTotal, error)
	CountEarnings(ctx context.Context, actorID string, typ models.TransactionType, since time.Time) (int64, error)
	Leaderboard(ctx context.Context, groupID string, types []models.TransactionType, limit int) ([]LeaderboardEntry, error)
	AuditBalances(ctx context.Context) ([]BalanceDrift, error)
}

type EncounterStore interface {
	FindEncounter(ctx context.Context, userA, userB string) (*models.ProximityEncounter, error)
	// CreateEncounter inserts a pending encounter. If the pair already exists the stored row
	// is returned with created=false.
	CreateEncounter(ctx context.Context, enc *models.ProximityEncounter) (stored *models.ProximityEncounter, created bool, err error)
	// MarkCredited moves a pending encounter to credited if it is still the same pending cycle.
	MarkCredited(ctx context.Context, id string, firstSeenAt, at time.Time) (bool, error)
	// TouchEncounter records a sighting of a pending encounter if it is still the same pending cycle.
	TouchEncounter(ctx context.Context, id string, firstSeenAt, at time.Time) (bool, error)
	// RestartEncounter begins a new pending cycle at `at` if the pending cycle is unchanged.
	RestartEncounter(ctx context.Context, id string, firstSeenAt, at time.Time) (bool, error)
	// ResetEncounter restarts a credited encounter as pending if it is still the same credited cycle.
	ResetEncounter(ctx context.Context, id string, creditedAt, at time.Time) (bool, error)
	// PruneEncounters deletes encounters with no activity since before.
	PruneEncounters(ctx context.Context, before time.Time) (int64, error)
}

type EventFilter struct {
	GroupID          string
	Statuses         []models.EventStatus
	StartsAtOrBefore *time.Time
	EndsAtOrBefore   *time.Time
	EndsAfter        *time.Time
}

type EventStore interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	CreateEvent(ctx context.Context, e *models.Event) error
	// UpdateScheduledEvent saves the event only while it is still scheduled, else ErrConflict.
	UpdateScheduledEvent(ctx context.Context, e *models.Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error)
	// TransitionEvent moves an event from one of the given states to the target state.
	// It reports false when the event was not in any of them. Moving to confirmed sets confirmedAt.
	TransitionEvent(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus, at time.Time) (bool, error)
	// EndEvent marks an active or confirmed event ended and closes its open check-ins in one step.
	EndEvent(ctx context.Context, id string, at time.Time) (ended bool, closed int64, err error)

	GetCheckin(ctx context.Context, eventID, userID string) (*models.EventCheckin, error)
	// CreateCheckin returns ErrConflict if the pair already checked in.
	CreateCheckin(ctx context.Context, c *models.EventCheckin) error
	UpdateCheckinPresence(ctx context.Context, id string, within bool, pingAt time.Time) error
	ListCheckins(ctx context.Context, eventID string) ([]models.EventCheckin, error)
	// CountWithinRadius counts open check-ins currently inside the geofence.
	CountWithinRadius(ctx context.Context, eventID string) (int64, error)
	RecordPresence(ctx context.Context, checkinID string, seconds int64, earned decimal.Decimal) error
}

// Store is the full persistence port used by the service layer.
type Store interface {
	ActorStore
	LedgerStore
	EncounterStore
	EventStore
	Ping(ctx context.Context) error
}
