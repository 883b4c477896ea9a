package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"grubs-service/config"
	"grubs-service/lease"
	"grubs-service/models"
	"grubs-service/repository"
	"grubs-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAPIKey     = "wallet-key"
	testCronSecret = "cron-secret"
	lat            = 40.7128
	lon            = -74.0060
)

type testServer struct {
	t     *testing.T
	store *repository.MemoryStore
	deps  Deps
	app   *fiber.App
	clock time.Time
	group *models.Group
	owner string
	alice string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemoryStore(time.Second)
	ts := &testServer{t: t, store: store, clock: time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)}

	ts.group = store.AddGroup(&models.Group{Name: "Cookie Club"})
	ts.owner = store.AddUser(&models.User{ID: uuid.NewString(), Name: "Avery"}).ID
	ts.alice = store.AddUser(&models.User{ID: uuid.NewString(), Name: "Alice"}).ID
	store.AddMembership(ts.group.ID, ts.owner, models.RoleOwner)
	store.AddMembership(ts.group.ID, ts.alice, models.RoleMember)

	ledger := services.NewLedgerService(store, nil, log)
	events := services.NewEventService(store, ledger, time.Minute, 2, log)
	enc := services.NewEncounterEngine(store, ledger, services.DefaultEncounterConfig(), log)
	amb := services.NewAmbientTick(store, ledger, services.DefaultAmbientConfig(), log)
	ts.deps = Deps{
		Positions:    services.NewPositionService(store, config.SchemeEncounter, 2*time.Minute, log),
		Events:       events,
		Ledger:       ledger,
		Stats:        services.NewStatsService(store, 2*time.Minute),
		Driver:       services.NewTickDriver(store, events, enc, amb, config.SchemeEncounter, 2*time.Minute, lease.NewLocalLocker(), log),
		Health:       store,
		WalletAPIKey: testAPIKey,
		CronSecret:   testCronSecret,
		Now:          func() time.Time { return ts.clock },
		Log:          log,
	}
	ts.app = NewApp(ts.deps)
	return ts
}

func (ts *testServer) do(method, path string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	ts.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func as(userID string) map[string]string {
	return map[string]string{"X-User-ID": userID}
}

func TestSecuredRoutesRequireUser(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(http.MethodGet, "/s/wallet", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, body["error"], "X-User-ID")
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestLocationReport(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(http.MethodPost, "/s/location", map[string]float64{"latitude": lat, "longitude": lon}, as(ts.alice))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 0, body["encounterCount"])
	assert.NotContains(t, body, "isNearOthers")

	code, body = ts.do(http.MethodPost, "/s/location", map[string]float64{"latitude": 95, "longitude": lon}, as(ts.alice))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "latitude")

	code, _ = ts.do(http.MethodPost, "/s/location", map[string]float64{"longitude": lon}, as(ts.alice))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(http.MethodPost, "/s/location", map[string]float64{"latitude": lat, "longitude": lon}, as(uuid.NewString()))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEventFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	start := ts.clock.Add(time.Hour)
	create := map[string]interface{}{
		"name":      "Bake sale",
		"latitude":  lat,
		"longitude": lon,
		"starts_at": start,
		"ends_at":   start.Add(time.Hour),
	}

	code, _ := ts.do(http.MethodPost, "/s/groups/"+ts.group.ID+"/events", create, as(ts.alice))
	assert.Equal(t, http.StatusForbidden, code, "members cannot create events")

	code, body := ts.do(http.MethodPost, "/s/groups/"+ts.group.ID+"/events", create, as(ts.owner))
	require.Equal(t, http.StatusCreated, code)
	ev := body["event"].(map[string]interface{})
	id := ev["id"].(string)
	assert.EqualValues(t, 100, ev["radius_meters"])

	code, body = ts.do(http.MethodPost, "/s/events/"+id+"/checkin", map[string]float64{"latitude": lat, "longitude": lon}, as(ts.alice))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["kind"])

	ts.clock = start
	code, _ = ts.do(http.MethodPost, "/cron/tick", nil, map[string]string{"Authorization": "Bearer " + testCronSecret})
	require.Equal(t, http.StatusOK, code)

	for _, u := range []string{ts.alice, ts.owner} {
		code, body = ts.do(http.MethodPost, "/s/events/"+id+"/checkin", map[string]float64{"latitude": lat, "longitude": lon}, as(u))
		require.Equal(t, http.StatusCreated, code)
		assert.Equal(t, true, body["is_within_radius"])
	}
	assert.Equal(t, true, body["event_confirmed"])

	code, _ = ts.do(http.MethodPost, "/s/events/"+id+"/checkin", map[string]float64{"latitude": lat, "longitude": lon}, as(ts.alice))
	assert.Equal(t, http.StatusBadRequest, code)

	ts.clock = start.Add(time.Minute)
	code, body = ts.do(http.MethodGet, "/cron/tick", nil, map[string]string{"Authorization": "Bearer " + testCronSecret})
	require.Equal(t, http.StatusOK, code)
	results := body["results"].(map[string]interface{})
	assert.EqualValues(t, 2, results["payouts"])

	code, body = ts.do(http.MethodGet, "/s/wallet", nil, as(ts.alice))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1", body["balance"])

	code, body = ts.do(http.MethodGet, "/s/events/"+id+"/attendees", nil, as(ts.alice))
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])

	code, _ = ts.do(http.MethodPatch, "/s/events/"+id, map[string]string{"name": "Renamed"}, as(ts.owner))
	assert.Equal(t, http.StatusConflict, code)

	code, body = ts.do(http.MethodDelete, "/s/events/"+id, nil, as(ts.owner))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["event"].(map[string]interface{})["status"])

	code, _ = ts.do(http.MethodGet, "/s/events/"+uuid.NewString(), nil, as(ts.owner))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStoredIDsSurviveLaterRequests(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	start := ts.clock.Add(time.Hour)

	code, body := ts.do(http.MethodPost, "/s/groups/"+ts.group.ID+"/events", map[string]interface{}{
		"name":      "Picnic",
		"latitude":  lat,
		"longitude": lon,
		"starts_at": start,
		"ends_at":   start.Add(time.Hour),
	}, as(ts.owner))
	require.Equal(t, http.StatusCreated, code)
	id := body["event"].(map[string]interface{})["id"].(string)

	ts.clock = start
	code, _ = ts.do(http.MethodPost, "/cron/tick", nil, map[string]string{"Authorization": "Bearer " + testCronSecret})
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(http.MethodPost, "/s/events/"+id+"/checkin", map[string]float64{"latitude": lat, "longitude": lon}, as(ts.alice))
	require.Equal(t, http.StatusCreated, code)

	// Requests with different ids and paths reuse the server's buffers.
	for i := 0; i < 5; i++ {
		other := uuid.NewString()
		ts.do(http.MethodGet, "/s/events/"+other, nil, as(other))
		ts.do(http.MethodGet, "/s/groups/"+other+"/events", nil, as(other))
	}

	ev, err := ts.store.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ts.group.ID, ev.GroupID)
	assert.Equal(t, ts.owner, ev.CreatedBy)
	c, err := ts.store.GetCheckin(ctx, id, ts.alice)
	require.NoError(t, err)
	assert.Equal(t, ts.alice, c.UserID)

	code, _ = ts.do(http.MethodPost, "/s/events/"+id+"/checkin", map[string]float64{"latitude": lat, "longitude": lon}, as(ts.owner))
	assert.Equal(t, http.StatusCreated, code, "group membership still resolves")
}

func TestRequestTimeouts(t *testing.T) {
	d := Deps{RequestTimeout: 10 * time.Second, CronTimeout: 5 * time.Minute}
	assert.Equal(t, 5*time.Minute, d.timeoutFor("/cron/tick"))
	assert.Equal(t, 10*time.Second, d.timeoutFor("/s/wallet"))
	assert.Equal(t, 10*time.Second, d.timeoutFor("/cronjobs"))
}

func TestWalletAPI(t *testing.T) {
	ts := newTestServer(t)
	key := map[string]string{"X-API-Key": testAPIKey}

	code, _ := ts.do(http.MethodPost, "/wallet/credit", map[string]interface{}{"user_id": ts.alice, "amount": "5"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = ts.do(http.MethodPost, "/wallet/credit", map[string]interface{}{"user_id": ts.alice, "amount": "5"}, map[string]string{"X-API-Key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)

	credit := map[string]interface{}{"user_id": ts.alice, "amount": "5", "idempotency_key": "sell-1"}
	code, body := ts.do(http.MethodPost, "/wallet/credit", credit, key)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "5", body["newBalance"])
	assert.Equal(t, false, body["replayed"])

	code, body = ts.do(http.MethodPost, "/wallet/credit", credit, key)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["replayed"])

	code, body = ts.do(http.MethodPost, "/wallet/debit", map[string]interface{}{"user_id": ts.alice, "amount": "1", "idempotency_key": "sell-1"}, key)
	assert.Equal(t, http.StatusConflict, code, "a credit's key cannot be replayed as a debit")
	assert.Equal(t, "conflict", body["kind"])

	code, body = ts.do(http.MethodPost, "/wallet/debit", map[string]interface{}{"user_id": ts.alice, "amount": "7.5"}, key)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "insufficient_balance", body["kind"])

	code, body = ts.do(http.MethodPost, "/wallet/debit", map[string]interface{}{
		"user_id": ts.alice, "amount": "2", "reference_type": "external", "reference_id": "order-9",
	}, key)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "3", body["newBalance"])

	code, _ = ts.do(http.MethodPost, "/wallet/debit", map[string]interface{}{"user_id": "not-a-uuid", "amount": "1"}, key)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do(http.MethodPost, "/wallet/credit", map[string]interface{}{"user_id": ts.alice, "amount": "-1"}, key)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = ts.do(http.MethodGet, "/wallet/buying-power", nil, map[string]string{"X-API-Key": testAPIKey, "X-User-ID": ts.alice})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "3", body["balance"])
	code, _ = ts.do(http.MethodGet, "/wallet/buying-power", nil, key)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = ts.do(http.MethodGet, "/s/wallet/transactions?limit=1", nil, as(ts.alice))
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])
}

func TestCronAuthAndOverlap(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(http.MethodPost, "/cron/tick", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = ts.do(http.MethodPost, "/cron/tick", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	ctx := context.Background()
	held, err := ts.deps.Driver.Locker.Acquire(ctx, services.TickLeaseName, time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	code, body := ts.do(http.MethodPost, "/cron/tick", nil, map[string]string{"Authorization": "Bearer " + testCronSecret})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", body["kind"])
}

func TestDashboardAndLeaderboard(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.deps.Ledger.Credit(context.Background(), services.LedgerEntry{
		ActorID: ts.alice, Amount: decimal.NewFromInt(2), Type: models.TxProximityEarning, At: ts.clock,
	})
	require.NoError(t, err)

	code, body := ts.do(http.MethodGet, "/s/dashboard/stats", nil, as(ts.alice))
	require.Equal(t, http.StatusOK, code)
	earnings := body["earnings"].(map[string]interface{})
	assert.Equal(t, "2", earnings["today"])
	assert.Len(t, earnings["dailyHistory"], 7)

	code, body = ts.do(http.MethodGet, "/s/groups/"+ts.group.Slug+"/leaderboard", nil, as(ts.owner))
	require.Equal(t, http.StatusOK, code)
	rows := body["leaderboard"].([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, ts.alice, rows[0].(map[string]interface{})["userId"])

	code, _ = ts.do(http.MethodGet, "/s/groups/nobody-here/leaderboard", nil, as(ts.owner))
	assert.Equal(t, http.StatusNotFound, code)
}
