package services

import (
	"context"
	"sort"
	"time"

	"grubs-service/config"
	"grubs-service/models"
	"grubs-service/repository"
	"grubs-service/utils"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PositionRepository covers what position reports read and write.
type PositionRepository interface {
	repository.ActorStore
	repository.LedgerStore
}

type PositionService struct {
	Store        PositionRepository
	Scheme       config.EarningScheme
	ActiveWindow time.Duration
	Log          *zap.Logger
}

func NewPositionService(store PositionRepository, scheme config.EarningScheme, activeWindow time.Duration, log *zap.Logger) *PositionService {
	if activeWindow <= 0 {
		activeWindow = 2 * time.Minute
	}
	return &PositionService{Store: store, Scheme: scheme, ActiveWindow: activeWindow, Log: log}
}

// PositionResult carries exactly one of the two fields, depending on the earning scheme.
type PositionResult struct {
	IsNearOthers   *bool  `json:"isNearOthers,omitempty"`
	EncounterCount *int64 `json:"encounterCount,omitempty"`
}

// ReportPosition stores the actor's latest position. The near-others flag it returns is the one
// computed by the last ambient tick; the encounter count is today's encounter payouts (UTC).
func (s *PositionService) ReportPosition(ctx context.Context, actorID string, lat, lon float64, at time.Time) (*PositionResult, error) {
	if !utils.ValidCoordinates(lat, lon) {
		return nil, ErrInvalidCoordinates
	}
	u, err := s.Store.UpdatePosition(ctx, actorID, lat, lon, at.UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrActorNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "update position")
	}

	if s.Scheme == config.SchemeAmbient {
		near := u.IsNearOthers
		return &PositionResult{IsNearOthers: &near}, nil
	}
	n, err := s.Store.CountEarnings(ctx, actorID, models.TxProximityEarning, startOfDay(at))
	if err != nil {
		return nil, errors.Wrap(err, "count encounters")
	}
	return &PositionResult{EncounterCount: &n}, nil
}

type NearbyActor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	LastSeen  time.Time `json:"lastSeen"`
}

type NearbySelf struct {
	IsNearOthers bool     `json:"isNearOthers"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

type NearbyView struct {
	Users []NearbyActor `json:"users"`
	Self  NearbySelf    `json:"self"`
}

// Nearby lists group-mates who reported a position within the active window.
// An actor without a position of their own sees nobody.
func (s *PositionService) Nearby(ctx context.Context, actorID string, now time.Time) (*NearbyView, error) {
	self, err := s.Store.GetActor(ctx, actorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrActorNotFound
	}
	if err != nil {
		return nil, err
	}
	view := &NearbyView{Users: []NearbyActor{}}
	if !self.HasPosition() {
		return view, nil
	}
	view.Self = NearbySelf{IsNearOthers: self.IsNearOthers, Latitude: self.LastLatitude, Longitude: self.LastLongitude}

	active, err := s.Store.ActiveActors(ctx, now.Add(-s.ActiveWindow))
	if err != nil {
		return nil, err
	}
	var me *models.ActiveActor
	for i := range active {
		if active[i].ID == actorID {
			me = &active[i]
			break
		}
	}
	if me == nil {
		// Stale or groupless: build the group set from memberships.
		ms, err := s.Store.MembershipsOf(ctx, actorID)
		if err != nil {
			return nil, err
		}
		me = &models.ActiveActor{ID: actorID}
		for _, m := range ms {
			me.GroupIDs = append(me.GroupIDs, m.GroupID)
		}
	}

	var ids []string
	for _, a := range active {
		if a.ID != actorID && me.SharesGroupWith(a) {
			ids = append(ids, a.ID)
		}
	}
	users, err := s.Store.GetActors(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		if a.ID == actorID || !me.SharesGroupWith(a) {
			continue
		}
		view.Users = append(view.Users, NearbyActor{
			ID:        a.ID,
			Name:      users[a.ID].Name,
			Latitude:  a.Latitude,
			Longitude: a.Longitude,
			LastSeen:  a.LastLocationAt,
		})
	}
	sort.Slice(view.Users, func(i, j int) bool { return view.Users[i].ID < view.Users[j].ID })
	return view, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
