package services

import (
	"context"
	"testing"
	"time"

	"grubs-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearbyPairs(t *testing.T) {
	actors := []models.ActiveActor{
		{ID: "c", Latitude: baseLat, Longitude: baseLon, GroupIDs: []string{"g1"}},
		{ID: "a", Latitude: north(150), Longitude: baseLon, GroupIDs: []string{"g1"}},
		{ID: "b", Latitude: north(50), Longitude: baseLon, GroupIDs: []string{"g2"}},
		{ID: "d", Latitude: north(5000), Longitude: baseLon, GroupIDs: []string{"g1", "g2"}},
	}

	pairs := NearbyPairs(actors, 200)
	require.Len(t, pairs, 1, "b shares no group with a or c, d is too far")
	assert.Equal(t, "a", pairs[0][0].ID)
	assert.Equal(t, "c", pairs[0][1].ID)
}

func TestEncounterDwellCooldownCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.member(t, "alice", models.RoleMember)
	b := f.member(t, "bob", models.RoleMember)
	reward := DefaultEncounterConfig().Reward

	step := func(now time.Time) EncounterResult {
		f.at(t, a.ID, baseLat, baseLon, now)
		f.at(t, b.ID, north(100), baseLon, now)
		res, err := f.enc.Run(ctx, f.active(t, now), now)
		require.NoError(t, err)
		require.Empty(t, res.Errors)
		return res
	}

	res := step(t0)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Credited, "first sighting never pays")

	res = step(t0.Add(20 * time.Second))
	assert.Equal(t, 0, res.Credited, "dwell not reached")

	res = step(t0.Add(30 * time.Second))
	assert.Equal(t, 1, res.Credited)
	assert.True(t, f.balance(t, a.ID).Equal(reward))
	assert.True(t, f.balance(t, b.ID).Equal(reward))

	res = step(t0.Add(2 * time.Hour))
	assert.Equal(t, 0, res.Credited+res.Reset, "cooldown holds")

	res = step(t0.Add(30*time.Second + 3*time.Hour))
	assert.Equal(t, 1, res.Reset)
	assert.Equal(t, 0, res.Credited, "a reset starts a new dwell")

	res = step(t0.Add(time.Minute + 3*time.Hour))
	assert.Equal(t, 1, res.Credited)
	assert.True(t, f.balance(t, a.ID).Equal(reward.Mul(dec("2"))))

	enc, err := f.store.FindEncounter(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, enc.UserAID, "stored in canonical order")
	assert.False(t, enc.IsPending())
}

func TestEncounterPartialFailureReplaysOnlyMissingSide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.member(t, "alice", models.RoleMember)
	reward := DefaultEncounterConfig().Reward

	// "user-zed" is not stored yet, so their credit fails.
	actors := func(now time.Time) []models.ActiveActor {
		return []models.ActiveActor{
			{ID: a.ID, Latitude: baseLat, Longitude: baseLon, LastLocationAt: now, GroupIDs: []string{f.group.ID}},
			{ID: "user-zed", Latitude: north(20), Longitude: baseLon, LastLocationAt: now, GroupIDs: []string{f.group.ID}},
		}
	}

	_, err := f.enc.Run(ctx, actors(t0), t0)
	require.NoError(t, err)

	res, err := f.enc.Run(ctx, actors(t0.Add(time.Minute)), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Credited)
	require.Len(t, res.Errors, 1)
	assert.True(t, f.balance(t, a.ID).Equal(reward))

	enc, err := f.store.FindEncounter(ctx, a.ID, "user-zed")
	require.NoError(t, err)
	assert.True(t, enc.IsPending(), "not advanced after a failed credit")

	// The next tick still fails for zed but must not pay alice again.
	res, err = f.enc.Run(ctx, actors(t0.Add(2*time.Minute)), t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.True(t, f.balance(t, a.ID).Equal(reward))

	f.member(t, "zed", models.RoleMember)
	res, err = f.enc.Run(ctx, actors(t0.Add(3*time.Minute)), t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Credited)
	assert.True(t, f.balance(t, a.ID).Equal(reward), "replayed, not paid twice")
	assert.True(t, f.balance(t, "user-zed").Equal(reward))
}

func TestEncounterDwellRestartsAfterGap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.member(t, "alice", models.RoleMember)
	b := f.member(t, "bob", models.RoleMember)

	step := func(now time.Time) EncounterResult {
		f.at(t, a.ID, baseLat, baseLon, now)
		f.at(t, b.ID, north(100), baseLon, now)
		res, err := f.enc.Run(ctx, f.active(t, now), now)
		require.NoError(t, err)
		require.Empty(t, res.Errors)
		return res
	}

	step(t0)
	step(t0.Add(20 * time.Second))

	// Apart for hours, then together again: the old sighting does not count as dwell.
	back := t0.Add(3 * time.Hour)
	res := step(back)
	assert.Equal(t, 1, res.Restarted)
	assert.Equal(t, 0, res.Credited)
	assert.True(t, f.balance(t, a.ID).IsZero())

	enc, err := f.store.FindEncounter(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, enc.FirstSeenAt.Equal(back))

	res = step(back.Add(20 * time.Second))
	assert.Equal(t, 0, res.Credited+res.Restarted)

	res = step(back.Add(30 * time.Second))
	assert.Equal(t, 1, res.Credited)
	assert.True(t, f.balance(t, a.ID).Equal(DefaultEncounterConfig().Reward))
}

func TestEncounterHalfPaidCycleSurvivesGap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.member(t, "alice", models.RoleMember)
	reward := DefaultEncounterConfig().Reward

	actors := func(now time.Time) []models.ActiveActor {
		return []models.ActiveActor{
			{ID: a.ID, Latitude: baseLat, Longitude: baseLon, LastLocationAt: now, GroupIDs: []string{f.group.ID}},
			{ID: "user-zed", Latitude: north(20), Longitude: baseLon, LastLocationAt: now, GroupIDs: []string{f.group.ID}},
		}
	}

	_, err := f.enc.Run(ctx, actors(t0), t0)
	require.NoError(t, err)
	res, err := f.enc.Run(ctx, actors(t0.Add(time.Minute)), t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.True(t, f.balance(t, a.ID).Equal(reward))

	f.member(t, "zed", models.RoleMember)
	later := t0.Add(time.Hour)
	res, err = f.enc.Run(ctx, actors(later), later)
	require.NoError(t, err)
	assert.Zero(t, res.Restarted, "a cycle that already dwelled is finished, not restarted")
	assert.Equal(t, 1, res.Credited)
	assert.True(t, f.balance(t, a.ID).Equal(reward))
	assert.True(t, f.balance(t, "user-zed").Equal(reward))
}

func TestEncounterPrune(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := t0.Add(-40 * 24 * time.Hour)
	_, _, err := f.store.CreateEncounter(ctx, &models.ProximityEncounter{UserAID: "x", UserBID: "y", FirstSeenAt: old})
	require.NoError(t, err)
	_, _, err = f.store.CreateEncounter(ctx, &models.ProximityEncounter{UserAID: "x", UserBID: "z", FirstSeenAt: t0})
	require.NoError(t, err)

	n, err := f.enc.Prune(ctx, 30*24*time.Hour, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.store.FindEncounter(ctx, "x", "z")
	assert.NoError(t, err)
}
