package services

import (
	"context"
	"time"

	"grubs-service/models"
	"grubs-service/repository"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ProximityTypes are the transaction types counted as proximity earnings on the dashboard.
var ProximityTypes = []models.TransactionType{models.TxProximityEarning, models.TxAmbientEarning}

const historyDays = 7

type StatsService struct {
	Store        PositionRepository
	ActiveWindow time.Duration
}

func NewStatsService(store PositionRepository, activeWindow time.Duration) *StatsService {
	if activeWindow <= 0 {
		activeWindow = 2 * time.Minute
	}
	return &StatsService{Store: store, ActiveWindow: activeWindow}
}

type Earnings struct {
	Today        decimal.Decimal   `json:"today"`
	ThisWeek     decimal.Decimal   `json:"thisWeek"`
	AllTime      decimal.Decimal   `json:"allTime"`
	DailyHistory []decimal.Decimal `json:"dailyHistory"`
}

type Streak struct {
	Days          int  `json:"days"`
	IsActiveToday bool `json:"isActiveToday"`
}

type EarningsSummary struct {
	Earnings Earnings `json:"earnings"`
	Streak   Streak   `json:"streak"`
}

// EarningsSummary totals the actor's positive proximity earnings over UTC days.
// The week is today plus the six days before it.
func (s *StatsService) EarningsSummary(ctx context.Context, actorID string, now time.Time) (*EarningsSummary, error) {
	if _, err := s.Store.GetActor(ctx, actorID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrActorNotFound
		}
		return nil, err
	}
	today := startOfDay(now)
	weekStart := today.AddDate(0, 0, -(historyDays - 1))

	var (
		out     EarningsSummary
		daily   []repository.DailyTotal
		allDays []repository.DailyTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Earnings.Today, err = s.Store.SumEarnings(gctx, actorID, ProximityTypes, today)
		return err
	})
	g.Go(func() (err error) {
		out.Earnings.ThisWeek, err = s.Store.SumEarnings(gctx, actorID, ProximityTypes, weekStart)
		return err
	})
	g.Go(func() (err error) {
		out.Earnings.AllTime, err = s.Store.SumEarnings(gctx, actorID, ProximityTypes, time.Time{})
		return err
	})
	g.Go(func() (err error) {
		daily, err = s.Store.EarningDays(gctx, actorID, ProximityTypes, weekStart)
		return err
	})
	g.Go(func() (err error) {
		allDays, err = s.Store.EarningDays(gctx, actorID, ProximityTypes, time.Time{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "earnings summary")
	}

	out.Earnings.DailyHistory = DailyHistory(daily, weekStart, historyDays)
	out.Streak = CurrentStreak(allDays, today)
	return &out, nil
}

// DailyHistory lays the totals out as n consecutive days from start, zero-filled.
func DailyHistory(totals []repository.DailyTotal, start time.Time, n int) []decimal.Decimal {
	byDay := make(map[string]decimal.Decimal, len(totals))
	for _, t := range totals {
		byDay[t.Day.UTC().Format(time.DateOnly)] = t.Total
	}
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = byDay[start.AddDate(0, 0, i).Format(time.DateOnly)]
	}
	return out
}

// CurrentStreak counts consecutive earning days ending today or yesterday. A streak whose
// last day is older than yesterday is broken and counts as zero.
func CurrentStreak(days []repository.DailyTotal, today time.Time) Streak {
	earned := make(map[string]bool, len(days))
	for _, d := range days {
		if d.Total.IsPositive() {
			earned[d.Day.UTC().Format(time.DateOnly)] = true
		}
	}
	var s Streak
	cursor := today
	if earned[today.Format(time.DateOnly)] {
		s.IsActiveToday = true
	} else {
		cursor = today.AddDate(0, 0, -1)
	}
	for earned[cursor.Format(time.DateOnly)] {
		s.Days++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return s
}

type LeaderboardRow struct {
	Rank        int             `json:"rank"`
	UserID      string          `json:"userId"`
	Name        string          `json:"name"`
	TotalEarned decimal.Decimal `json:"totalEarned"`
}

type ActiveMember struct {
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

type GroupBoard struct {
	Group         *models.Group    `json:"group"`
	Leaderboard   []LeaderboardRow `json:"leaderboard"`
	ActiveMembers []ActiveMember   `json:"activeMembers"`
}

// GroupBoard ranks the group's members by proximity earnings and lists the other members
// seen within the active window. Members only.
func (s *StatsService) GroupBoard(ctx context.Context, slug, viewerID string, limit int, now time.Time) (*GroupBoard, error) {
	if limit < 1 || limit > 100 {
		limit = 10
	}
	g, err := s.Store.GetGroupBySlug(ctx, slug)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.GetMembership(ctx, g.ID, viewerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotAMember
		}
		return nil, err
	}

	entries, err := s.Store.Leaderboard(ctx, g.ID, ProximityTypes, limit)
	if err != nil {
		return nil, errors.Wrap(err, "leaderboard")
	}
	board := &GroupBoard{Group: g, Leaderboard: make([]LeaderboardRow, 0, len(entries)), ActiveMembers: []ActiveMember{}}
	for i, e := range entries {
		board.Leaderboard = append(board.Leaderboard, LeaderboardRow{Rank: i + 1, UserID: e.UserID, Name: e.Name, TotalEarned: e.Total})
	}

	active, err := s.Store.ActiveActors(ctx, now.Add(-s.ActiveWindow))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, a := range active {
		if a.ID != viewerID && a.SharesGroupWith(models.ActiveActor{GroupIDs: []string{g.ID}}) {
			ids = append(ids, a.ID)
		}
	}
	users, err := s.Store.GetActors(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		if _, ok := users[a.ID]; !ok {
			continue
		}
		board.ActiveMembers = append(board.ActiveMembers, ActiveMember{UserID: a.ID, Name: users[a.ID].Name, LastSeenAt: a.LastLocationAt})
	}
	return board, nil
}
