package repository

import (
	"context"
	"testing"
	"time"

	"grubs-service/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)

func seeded(t *testing.T) (*MemoryStore, *models.Group) {
	t.Helper()
	s := NewMemoryStore(time.Second)
	g := s.AddGroup(&models.Group{Name: "Night Owls"})
	for _, id := range []string{"u1", "u2"} {
		s.AddUser(&models.User{ID: id, Name: id})
		s.AddMembership(g.ID, id, models.RoleMember)
	}
	s.AddUser(&models.User{ID: "loner", Name: "loner"})
	return s, g
}

func TestMemoryStoreGroupDefaults(t *testing.T) {
	s, g := seeded(t)
	assert.Equal(t, "night-owls", g.Slug)
	assert.Equal(t, 2, g.MinAttendance)
	assert.True(t, g.CurrencyRate.Equal(decimal.NewFromInt(1)))

	got, err := s.GetGroupBySlug(context.Background(), "night-owls")
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)
}

func TestMemoryStorePositionsAndActiveActors(t *testing.T) {
	ctx := context.Background()
	s, g := seeded(t)

	_, err := s.UpdatePosition(ctx, "u1", 1, 1, now)
	require.NoError(t, err)
	u, err := s.UpdatePosition(ctx, "u1", 9, 9, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1.0, *u.LastLatitude, "older reports are ignored")

	_, err = s.UpdatePosition(ctx, "loner", 1, 1, now)
	require.NoError(t, err)
	_, err = s.UpdatePosition(ctx, "u2", 1, 1, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.UpdatePosition(ctx, "ghost", 1, 1, now)
	assert.ErrorIs(t, err, ErrNotFound)

	actors, err := s.ActiveActors(ctx, now.Add(-2*time.Minute))
	require.NoError(t, err)
	require.Len(t, actors, 1, "stale and groupless actors are skipped")
	assert.Equal(t, "u1", actors[0].ID)
	assert.Equal(t, []string{g.ID}, actors[0].GroupIDs)

	require.NoError(t, s.SetNearOthers(ctx, map[string]bool{"u1": true, "u2": true}))
	n, err := s.ClearStaleNearOthers(ctx, now.Add(-2*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemoryStoreApply(t *testing.T) {
	ctx := context.Background()
	s, _ := seeded(t)
	build := func(amount string) BuildFunc {
		return func(balance decimal.Decimal) (*models.Transaction, error) {
			return &models.Transaction{Amount: decimal.RequireFromString(amount), Type: models.TxAdjustment, CreatedAt: now}, nil
		}
	}

	tx, replayed, err := s.Apply(ctx, "u1", "k1", build("5"))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.True(t, tx.BalanceAfter.Equal(decimal.NewFromInt(5)))
	require.NotNil(t, tx.IdempotencyKey)

	again, replayed, err := s.Apply(ctx, "u1", "k1", build("7"))
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, tx.ID, again.ID)

	other, replayed, err := s.Apply(ctx, "u2", "k1", build("2"))
	require.NoError(t, err)
	assert.False(t, replayed, "keys are scoped to their actor")
	assert.Equal(t, "u2", other.UserID)

	boom := errors.New("boom")
	_, _, err = s.Apply(ctx, "u1", "", func(decimal.Decimal) (*models.Transaction, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, _, err = s.Apply(ctx, "ghost", "", build("1"))
	assert.ErrorIs(t, err, ErrNotFound)

	bal, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(5)))

	drift, err := s.AuditBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	s.users["u2"].WalletBalance = decimal.NewFromInt(3)
	drift, err = s.AuditBalances(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, "u2", drift[0].UserID)
}

func TestMemoryStoreEncounterCAS(t *testing.T) {
	ctx := context.Background()
	s, _ := seeded(t)

	enc, created, err := s.CreateEncounter(ctx, &models.ProximityEncounter{UserAID: "u2", UserBID: "u1", FirstSeenAt: now})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "u1", enc.UserAID)

	dup, created, err := s.CreateEncounter(ctx, &models.ProximityEncounter{UserAID: "u1", UserBID: "u2", FirstSeenAt: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, enc.ID, dup.ID)
	assert.True(t, dup.FirstSeenAt.Equal(now))

	ok, err := s.MarkCredited(ctx, enc.ID, now.Add(time.Second), now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "stale firstSeenAt")

	ok, err = s.MarkCredited(ctx, enc.ID, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkCredited(ctx, enc.ID, now, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "only once per cycle")

	ok, err = s.ResetEncounter(ctx, enc.ID, now.Add(time.Minute), now.Add(4*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ResetEncounter(ctx, enc.ID, now.Add(time.Minute), now.Add(5*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.FindEncounter(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.True(t, got.IsPending())
	assert.True(t, got.FirstSeenAt.Equal(now.Add(4*time.Hour)))
	assert.True(t, got.LastSeenAt.Equal(now.Add(4*time.Hour)))

	cycle := got.FirstSeenAt
	ok, err = s.TouchEncounter(ctx, enc.ID, now, cycle.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "stale cycle")
	ok, err = s.TouchEncounter(ctx, enc.ID, cycle, cycle.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RestartEncounter(ctx, enc.ID, cycle, cycle.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.RestartEncounter(ctx, enc.ID, cycle, cycle.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.FindEncounter(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, got.FirstSeenAt.Equal(cycle.Add(time.Hour)))
	assert.True(t, got.SeenSince().Equal(cycle.Add(time.Hour)))
}

func TestMemoryStoreEvents(t *testing.T) {
	ctx := context.Background()
	s, g := seeded(t)
	ev := &models.Event{GroupID: g.ID, Name: "Run", StartsAt: now, EndsAt: now.Add(time.Hour), RadiusMeters: 100}
	require.NoError(t, s.CreateEvent(ctx, ev))
	assert.Equal(t, models.EventStatusScheduled, ev.Status)

	ev.Name = "Long run"
	require.NoError(t, s.UpdateScheduledEvent(ctx, ev))

	ok, err := s.TransitionEvent(ctx, ev.ID, []models.EventStatus{models.EventStatusScheduled}, models.EventStatusActive, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.ErrorIs(t, s.UpdateScheduledEvent(ctx, ev), ErrConflict)

	c := &models.EventCheckin{EventID: ev.ID, UserID: "u1", CheckedInAt: now, IsWithinRadius: true, LastLocationPing: now}
	require.NoError(t, s.CreateCheckin(ctx, c))
	assert.ErrorIs(t, s.CreateCheckin(ctx, &models.EventCheckin{EventID: ev.ID, UserID: "u1"}), ErrConflict)

	n, err := s.CountWithinRadius(ctx, ev.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.RecordPresence(ctx, c.ID, 60, decimal.NewFromInt(1)))

	ended, closed, err := s.EndEvent(ctx, ev.ID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ended)
	assert.EqualValues(t, 1, closed)

	ended, _, err = s.EndEvent(ctx, ev.ID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ended)

	got, err := s.GetCheckin(ctx, ev.ID, "u1")
	require.NoError(t, err)
	assert.NotNil(t, got.CheckedOutAt)
	assert.False(t, got.IsWithinRadius)
	assert.EqualValues(t, 60, got.TotalSecondsPresent)
	assert.ErrorIs(t, s.UpdateCheckinPresence(ctx, c.ID, true, now.Add(2*time.Hour)), ErrNotFound)
}
