package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"grubs-service/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newID() string {
	return uuid.NewString()
}

// MemoryStore is a process-local Store. Ledger operations serialize per actor through a
// one-slot semaphore with a bounded wait, mirroring the row lock of the SQL store.
type MemoryStore struct {
	LockTimeout time.Duration

	mu           sync.RWMutex
	users        map[string]*models.User
	groups       map[string]*models.Group
	memberships  map[string]*models.Membership // key: group|user
	events       map[string]*models.Event
	checkins     map[string]*models.EventCheckin // key: event|user
	encounters   map[string]*models.ProximityEncounter // key: a|b
	transactions []*models.Transaction
	keys         map[string]*models.Transaction
	seq          int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &MemoryStore{
		LockTimeout: lockTimeout,
		users:       map[string]*models.User{},
		groups:      map[string]*models.Group{},
		memberships: map[string]*models.Membership{},
		events:      map[string]*models.Event{},
		checkins:    map[string]*models.EventCheckin{},
		encounters:  map[string]*models.ProximityEncounter{},
		keys:        map[string]*models.Transaction{},
		locks:       map[string]chan struct{}{},
	}
}

func pairKey(a, b string) string { return a + "|" + b }

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// --- seeding ---

func (s *MemoryStore) AddUser(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = newID()
	}
	cp := *u
	s.users[u.ID] = &cp
	return u
}

func (s *MemoryStore) AddGroup(g *models.Group) *models.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = newID()
	}
	g.EnsureSlug()
	if g.MinAttendance == 0 {
		g.MinAttendance = 2
	}
	if g.CurrencyRate.IsZero() {
		g.CurrencyRate = decimal.NewFromInt(1)
	}
	cp := *g
	s.groups[g.ID] = &cp
	return g
}

func (s *MemoryStore) AddMembership(groupID, userID string, role models.MembershipRole) *models.Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &models.Membership{ID: newID(), GroupID: groupID, UserID: userID, Role: role, JoinedAt: time.Now()}
	s.memberships[pairKey(groupID, userID)] = m
	cp := *m
	return &cp
}

// --- actors ---

func (s *MemoryStore) GetActor(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetActors(ctx context.Context, ids []string) (map[string]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = *u
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdatePosition(ctx context.Context, id string, lat, lon float64, at time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.LastLocationAt == nil || !u.LastLocationAt.After(at) {
		la, lo, t := lat, lon, at
		u.LastLatitude, u.LastLongitude, u.LastLocationAt = &la, &lo, &t
		u.UpdatedAt = at
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ActiveActors(ctx context.Context, since time.Time) ([]models.ActiveActor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := map[string][]string{}
	for _, m := range s.memberships {
		groups[m.UserID] = append(groups[m.UserID], m.GroupID)
	}

	var actors []models.ActiveActor
	for _, u := range s.users {
		if !u.HasPosition() || u.LastLocationAt == nil || u.LastLocationAt.Before(since) {
			continue
		}
		gids := groups[u.ID]
		if len(gids) == 0 {
			continue
		}
		sort.Strings(gids)
		actors = append(actors, models.ActiveActor{
			ID:             u.ID,
			Latitude:       *u.LastLatitude,
			Longitude:      *u.LastLongitude,
			LastLocationAt: *u.LastLocationAt,
			GroupIDs:       gids,
		})
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i].ID < actors[j].ID })
	return actors, nil
}

func (s *MemoryStore) SetNearOthers(ctx context.Context, flags map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range flags {
		if u, ok := s.users[id]; ok {
			u.IsNearOthers = v
		}
	}
	return nil
}

func (s *MemoryStore) ClearStaleNearOthers(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range s.users {
		if u.IsNearOthers && (u.LastLocationAt == nil || u.LastLocationAt.Before(before)) {
			u.IsNearOthers = false
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) GetGroupBySlug(ctx context.Context, slug string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.Slug == slug {
			cp := *g
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetMembership(ctx context.Context, groupID, userID string) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[pairKey(groupID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) MembershipsOf(ctx context.Context, userID string) ([]models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

// --- ledger ---

func (s *MemoryStore) actorLock(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

// actorKey scopes an idempotency key to its actor.
func actorKey(actorID, key string) string {
	return actorID + "\x00" + key
}

func (s *MemoryStore) Apply(ctx context.Context, actorID, key string, build BuildFunc) (*models.Transaction, bool, error) {
	s.mu.RLock()
	_, ok := s.users[actorID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, ErrNotFound
	}

	lock := s.actorLock(actorID)
	timer := time.NewTimer(s.LockTimeout)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
	case <-timer.C:
		return nil, false, ErrContention
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	defer func() { <-lock }()

	s.mu.RLock()
	balance := s.users[actorID].WalletBalance
	existing := s.keys[actorKey(actorID, key)]
	s.mu.RUnlock()

	if key != "" && existing != nil {
		cp := *existing
		return &cp, true, nil
	}

	row, err := build(balance)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if row.ID == "" {
		row.ID = newID()
	}
	s.seq++
	row.Seq = s.seq
	row.UserID = actorID
	row.BalanceAfter = balance.Add(row.Amount)
	if key != "" {
		k := key
		row.IdempotencyKey = &k
	}
	stored := *row
	s.transactions = append(s.transactions, &stored)
	if key != "" {
		s.keys[actorKey(actorID, key)] = &stored
	}
	s.users[actorID].WalletBalance = row.BalanceAfter
	return row, false, nil
}

func (s *MemoryStore) Balance(ctx context.Context, actorID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[actorID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return u.WalletBalance, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []models.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.UserID != f.UserID || (f.Type != "" && t.Type != f.Type) {
			continue
		}
		matched = append(matched, *t)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return []models.Transaction{}, total, nil
	}
	end := len(matched)
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (s *MemoryStore) TransactionsBetween(ctx context.Context, from, to time.Time) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, t := range s.transactions {
		if !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) earnings(actorID string, types []models.TransactionType, since time.Time) []*models.Transaction {
	var out []*models.Transaction
	for _, t := range s.transactions {
		if t.UserID != actorID || !t.Amount.IsPositive() || t.CreatedAt.Before(since) {
			continue
		}
		for _, typ := range types {
			if t.Type == typ {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func (s *MemoryStore) SumEarnings(ctx context.Context, actorID string, types []models.TransactionType, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for _, t := range s.earnings(actorID, types, since) {
		sum = sum.Add(t.Amount)
	}
	return sum, nil
}

func (s *MemoryStore) EarningDays(ctx context.Context, actorID string, types []models.TransactionType, since time.Time) ([]DailyTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byDay := map[time.Time]decimal.Decimal{}
	for _, t := range s.earnings(actorID, types, since) {
		c := t.CreatedAt.UTC()
		day := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, time.UTC)
		byDay[day] = byDay[day].Add(t.Amount)
	}
	out := make([]DailyTotal, 0, len(byDay))
	for day, total := range byDay {
		out = append(out, DailyTotal{Day: day, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *MemoryStore) CountEarnings(ctx context.Context, actorID string, typ models.TransactionType, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.earnings(actorID, []models.TransactionType{typ}, since))), nil
}

func (s *MemoryStore) Leaderboard(ctx context.Context, groupID string, types []models.TransactionType, limit int) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LeaderboardEntry
	for _, m := range s.memberships {
		if m.GroupID != groupID {
			continue
		}
		u, ok := s.users[m.UserID]
		if !ok {
			continue
		}
		total := decimal.Zero
		for _, t := range s.earnings(u.ID, types, time.Time{}) {
			total = total.Add(t.Amount)
		}
		out = append(out, LeaderboardEntry{UserID: u.ID, Name: u.Name, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- encounters ---

func (s *MemoryStore) FindEncounter(ctx context.Context, userA, userB string) (*models.ProximityEncounter, error) {
	a, b := models.CanonicalPair(userA, userB)
	s.mu.RLock()
	defer s.mu.RUnlock()
	enc, ok := s.encounters[pairKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *enc
	return &cp, nil
}

func (s *MemoryStore) CreateEncounter(ctx context.Context, enc *models.ProximityEncounter) (*models.ProximityEncounter, bool, error) {
	enc.UserAID, enc.UserBID = models.CanonicalPair(enc.UserAID, enc.UserBID)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(enc.UserAID, enc.UserBID)
	if existing, ok := s.encounters[k]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if enc.ID == "" {
		enc.ID = newID()
	}
	stored := *enc
	s.encounters[k] = &stored
	return enc, true, nil
}

func (s *MemoryStore) encounterByID(id string) *models.ProximityEncounter {
	for _, e := range s.encounters {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *MemoryStore) MarkCredited(ctx context.Context, id string, firstSeenAt, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.encounterByID(id)
	if e == nil || e.CreditedAt != nil || !e.FirstSeenAt.Equal(firstSeenAt) {
		return false, nil
	}
	t := at
	e.CreditedAt = &t
	return true, nil
}

func (s *MemoryStore) TouchEncounter(ctx context.Context, id string, firstSeenAt, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.encounterByID(id)
	if e == nil || e.CreditedAt != nil || !e.FirstSeenAt.Equal(firstSeenAt) {
		return false, nil
	}
	e.LastSeenAt = at
	return true, nil
}

func (s *MemoryStore) RestartEncounter(ctx context.Context, id string, firstSeenAt, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.encounterByID(id)
	if e == nil || e.CreditedAt != nil || !e.FirstSeenAt.Equal(firstSeenAt) {
		return false, nil
	}
	e.FirstSeenAt, e.LastSeenAt = at, at
	return true, nil
}

func (s *MemoryStore) ResetEncounter(ctx context.Context, id string, creditedAt, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.encounterByID(id)
	if e == nil || e.CreditedAt == nil || !e.CreditedAt.Equal(creditedAt) {
		return false, nil
	}
	e.FirstSeenAt, e.LastSeenAt = at, at
	e.CreditedAt = nil
	return true, nil
}

func (s *MemoryStore) PruneEncounters(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.encounters {
		if e.SeenSince().Before(before) && (e.CreditedAt == nil || e.CreditedAt.Before(before)) {
			delete(s.encounters, k)
			n++
		}
	}
	return n, nil
}

// --- events ---

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) CreateEvent(ctx context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	if _, ok := s.events[e.ID]; ok {
		return ErrConflict
	}
	if e.Status == "" {
		e.Status = models.EventStatusScheduled
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateScheduledEvent(ctx context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[e.ID]
	if !ok || cur.Status != models.EventStatusScheduled {
		return ErrConflict
	}
	cp := *e
	cp.Status = cur.Status
	cp.ConfirmedAt = cur.ConfirmedAt
	s.events[e.ID] = &cp
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, e := range s.events {
		if f.GroupID != "" && e.GroupID != f.GroupID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, e.Status) {
			continue
		}
		if f.StartsAtOrBefore != nil && e.StartsAt.After(*f.StartsAtOrBefore) {
			continue
		}
		if f.EndsAtOrBefore != nil && e.EndsAt.After(*f.EndsAtOrBefore) {
			continue
		}
		if f.EndsAfter != nil && !e.EndsAt.After(*f.EndsAfter) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func hasStatus(list []models.EventStatus, st models.EventStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func (s *MemoryStore) TransitionEvent(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || !hasStatus(from, e.Status) {
		return false, nil
	}
	e.Status = to
	if to == models.EventStatusConfirmed {
		t := at
		e.ConfirmedAt = &t
	}
	return true, nil
}

func (s *MemoryStore) EndEvent(ctx context.Context, id string, at time.Time) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || (e.Status != models.EventStatusActive && e.Status != models.EventStatusConfirmed) {
		return false, 0, nil
	}
	e.Status = models.EventStatusEnded
	var closed int64
	for _, c := range s.checkins {
		if c.EventID == id && c.CheckedOutAt == nil {
			t := at
			c.CheckedOutAt = &t
			c.IsWithinRadius = false
			closed++
		}
	}
	return true, closed, nil
}

func (s *MemoryStore) GetCheckin(ctx context.Context, eventID, userID string) (*models.EventCheckin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkins[pairKey(eventID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CreateCheckin(ctx context.Context, c *models.EventCheckin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(c.EventID, c.UserID)
	if _, ok := s.checkins[k]; ok {
		return ErrConflict
	}
	if c.ID == "" {
		c.ID = newID()
	}
	cp := *c
	s.checkins[k] = &cp
	return nil
}

func (s *MemoryStore) checkinByID(id string) *models.EventCheckin {
	for _, c := range s.checkins {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *MemoryStore) UpdateCheckinPresence(ctx context.Context, id string, within bool, pingAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.checkinByID(id)
	if c == nil || c.CheckedOutAt != nil {
		return ErrNotFound
	}
	c.IsWithinRadius = within
	c.LastLocationPing = pingAt
	return nil
}

func (s *MemoryStore) ListCheckins(ctx context.Context, eventID string) ([]models.EventCheckin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EventCheckin
	for _, c := range s.checkins {
		if c.EventID == eventID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckedInAt.Equal(out[j].CheckedInAt) {
			return out[i].CheckedInAt.Before(out[j].CheckedInAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CountWithinRadius(ctx context.Context, eventID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, c := range s.checkins {
		if c.EventID == eventID && c.IsWithinRadius && c.CheckedOutAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RecordPresence(ctx context.Context, checkinID string, seconds int64, earned decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.checkinByID(checkinID)
	if c == nil {
		return ErrNotFound
	}
	c.TotalSecondsPresent += seconds
	c.CurrencyEarned = c.CurrencyEarned.Add(earned)
	return nil
}

func (s *MemoryStore) AuditBalances(ctx context.Context) ([]BalanceDrift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := map[string]decimal.Decimal{}
	for _, t := range s.transactions {
		sums[t.UserID] = sums[t.UserID].Add(t.Amount)
	}
	var out []BalanceDrift
	for id, u := range s.users {
		if !u.WalletBalance.Equal(sums[id]) {
			out = append(out, BalanceDrift{UserID: id, Balance: u.WalletBalance, LedgerSum: sums[id]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
