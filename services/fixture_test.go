package services

import (
	"context"
	"testing"
	"time"

	"grubs-service/config"
	"grubs-service/lease"
	"grubs-service/models"
	"grubs-service/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)

// Downtown coordinates and points at known distances from it.
const (
	baseLat = 40.7128
	baseLon = -74.0060
)

// north returns a latitude roughly meters north of baseLat.
func north(meters float64) float64 {
	return baseLat + meters/111194.93
}

type fixture struct {
	store  *repository.MemoryStore
	ledger *LedgerService
	events *EventService
	enc    *EncounterEngine
	amb    *AmbientTick
	driver *TickDriver
	group  *models.Group
	owner  *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemoryStore(time.Second)

	f := &fixture{store: store}
	f.ledger = NewLedgerService(store, nil, log)
	f.events = NewEventService(store, f.ledger, time.Minute, 4, log)
	f.enc = NewEncounterEngine(store, f.ledger, DefaultEncounterConfig(), log)
	f.amb = NewAmbientTick(store, f.ledger, DefaultAmbientConfig(), log)
	f.driver = NewTickDriver(store, f.events, f.enc, f.amb, config.SchemeEncounter, 2*time.Minute, lease.NewLocalLocker(), log)

	f.group = store.AddGroup(&models.Group{Name: "Cookie Club", MinAttendance: 2, CurrencyRate: decimal.NewFromInt(1)})
	f.owner = f.member(t, "owner", models.RoleOwner)
	return f
}

// member adds a user to the fixture group.
func (f *fixture) member(t *testing.T, name string, role models.MembershipRole) *models.User {
	t.Helper()
	u := f.store.AddUser(&models.User{ID: "user-" + name, Name: name})
	f.store.AddMembership(f.group.ID, u.ID, role)
	return u
}

// stranger adds a user who belongs to a different group.
func (f *fixture) stranger(t *testing.T, name string) *models.User {
	t.Helper()
	g := f.store.AddGroup(&models.Group{Name: "Other " + name})
	u := f.store.AddUser(&models.User{ID: "user-" + name, Name: name})
	f.store.AddMembership(g.ID, u.ID, models.RoleMember)
	return u
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) at(t *testing.T, id string, lat, lon float64, when time.Time) {
	t.Helper()
	_, err := f.store.UpdatePosition(context.Background(), id, lat, lon, when)
	require.NoError(t, err)
}

func (f *fixture) active(t *testing.T, now time.Time) []models.ActiveActor {
	t.Helper()
	actors, err := f.store.ActiveActors(context.Background(), now.Add(-2*time.Minute))
	require.NoError(t, err)
	return actors
}

// scheduledEvent creates an event starting at start and lasting an hour at the base point.
func (f *fixture) scheduledEvent(t *testing.T, start time.Time, minAttendance *int) *models.Event {
	t.Helper()
	ev, err := f.events.CreateEvent(context.Background(), f.group.ID, f.owner.ID, EventInput{
		Name:          "Bake sale",
		Latitude:      baseLat,
		Longitude:     baseLon,
		RadiusMeters:  100,
		StartsAt:      start,
		EndsAt:        start.Add(time.Hour),
		MinAttendance: minAttendance,
	}, start.Add(-time.Hour))
	require.NoError(t, err)
	return ev
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func intPtr(n int) *int { return &n }
