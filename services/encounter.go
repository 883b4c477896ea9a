package services

import (
	"context"
	"fmt"
	"time"

	"grubs-service/metrics"
	"grubs-service/models"
	"grubs-service/repository"
	"grubs-service/utils"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EncounterConfig struct {
	RadiusMeters float64
	Dwell        time.Duration
	Cooldown     time.Duration
	Reward       decimal.Decimal
	// MaxGap is the longest a pending pair may go unseen before its dwell starts over.
	MaxGap time.Duration
}

func DefaultEncounterConfig() EncounterConfig {
	return EncounterConfig{
		RadiusMeters: 200,
		Dwell:        30 * time.Second,
		Cooldown:     3 * time.Hour,
		Reward:       decimal.NewFromInt(2),
		MaxGap:       2 * time.Minute,
	}
}

type EncounterResult struct {
	Pairs    int
	Created  int
	Credited int
	Reset    int
	// Restarted counts pending pairs whose dwell started over after a gap.
	Restarted int
	Errors    []string
}

// EncounterEngine turns pairwise proximity between group-mates into dwell-gated,
// cooldown-limited rewards.
type EncounterEngine struct {
	Store    repository.EncounterStore
	Ledger   *LedgerService
	Cfg      EncounterConfig
	MaxTries uint
	Log      *zap.Logger
	Metrics  *metrics.AppMetrics
}

func NewEncounterEngine(store repository.EncounterStore, ledger *LedgerService, cfg EncounterConfig, log *zap.Logger) *EncounterEngine {
	return &EncounterEngine{Store: store, Ledger: ledger, Cfg: cfg, MaxTries: 3, Log: log, Metrics: metrics.Get()}
}

// NearbyPairs returns every unordered pair of actors that share a group and are within radius,
// canonical order first.
func NearbyPairs(actors []models.ActiveActor, radius float64) [][2]models.ActiveActor {
	var pairs [][2]models.ActiveActor
	for i := 0; i < len(actors); i++ {
		for j := i + 1; j < len(actors); j++ {
			a, b := actors[i], actors[j]
			if a.ID == b.ID || !a.SharesGroupWith(b) {
				continue
			}
			if !utils.IsWithinRadius(a.Latitude, a.Longitude, b.Latitude, b.Longitude, radius) {
				continue
			}
			if b.ID < a.ID {
				a, b = b, a
			}
			pairs = append(pairs, [2]models.ActiveActor{a, b})
		}
	}
	return pairs
}

// Run evaluates every nearby pair once. Storage failures abort the pass; ledger failures
// are collected and the pair is retried from its recorded state on the next tick.
func (e *EncounterEngine) Run(ctx context.Context, actors []models.ActiveActor, now time.Time) (EncounterResult, error) {
	var res EncounterResult
	for _, p := range NearbyPairs(actors, e.Cfg.RadiusMeters) {
		res.Pairs++
		if err := e.evaluatePair(ctx, p[0].ID, p[1].ID, now, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *EncounterEngine) evaluatePair(ctx context.Context, a, b string, now time.Time, res *EncounterResult) error {
	enc, err := e.Store.FindEncounter(ctx, a, b)
	if errors.Is(err, repository.ErrNotFound) {
		_, created, err := e.Store.CreateEncounter(ctx, &models.ProximityEncounter{
			UserAID:     a,
			UserBID:     b,
			FirstSeenAt: now,
			LastSeenAt:  now,
		})
		if err != nil {
			return errors.Wrapf(err, "create encounter %s/%s", a, b)
		}
		if created {
			res.Created++
			e.Log.Debug("[Encounter] new pending pair", zap.String("user_a", a), zap.String("user_b", b))
		}
		// A pair that was just seen cannot have dwelled yet.
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "find encounter %s/%s", a, b)
	}

	if enc.CreditedAt != nil {
		if now.Sub(*enc.CreditedAt) < e.Cfg.Cooldown {
			return nil
		}
		ok, err := e.Store.ResetEncounter(ctx, enc.ID, *enc.CreditedAt, now)
		if err != nil {
			return errors.Wrapf(err, "reset encounter %s", enc.ID)
		}
		if ok {
			res.Reset++
			e.Log.Debug("[Encounter] cooldown elapsed, pair pending again", zap.String("encounter_id", enc.ID))
		}
		return nil
	}

	// Dwell is continuous. A cycle that never reached it restarts after a gap; one that
	// did keeps its keys so a half-finished payout completes instead of paying twice.
	maxGap := e.Cfg.MaxGap
	if maxGap <= 0 {
		maxGap = DefaultEncounterConfig().MaxGap
	}
	if now.Sub(enc.SeenSince()) > maxGap && enc.SeenSince().Sub(enc.FirstSeenAt) < e.Cfg.Dwell {
		ok, err := e.Store.RestartEncounter(ctx, enc.ID, enc.FirstSeenAt, now)
		if err != nil {
			return errors.Wrapf(err, "restart encounter %s", enc.ID)
		}
		if ok {
			res.Restarted++
			e.Log.Debug("[Encounter] pair lost between sightings, dwell restarted", zap.String("encounter_id", enc.ID))
		}
		return nil
	}

	ok, err := e.Store.TouchEncounter(ctx, enc.ID, enc.FirstSeenAt, now)
	if err != nil {
		return errors.Wrapf(err, "touch encounter %s", enc.ID)
	}
	if !ok {
		return nil
	}
	if now.Sub(enc.FirstSeenAt) < e.Cfg.Dwell {
		return nil
	}

	// Both sides use a key bound to this pending cycle, so a half-finished payout
	// replays the credited side instead of paying it twice.
	failed := false
	for _, actor := range []string{enc.UserAID, enc.UserBID} {
		_, err := e.Ledger.creditWithRetry(ctx, LedgerEntry{
			ActorID:        actor,
			Amount:         e.Cfg.Reward,
			Type:           models.TxProximityEarning,
			Reference:      &models.Reference{Kind: models.RefEncounter, ID: enc.ID},
			Description:    "Proximity encounter",
			IdempotencyKey: EncounterKey(enc, actor),
			At:             now,
		}, e.MaxTries)
		if err != nil {
			failed = true
			res.Errors = append(res.Errors, fmt.Sprintf("encounter %s: credit %s: %v", enc.ID, actor, err))
			e.Log.Warn("[Encounter] credit failed",
				zap.String("encounter_id", enc.ID),
				zap.String("actor_id", actor),
				zap.Error(err))
		}
	}
	if failed {
		return nil
	}

	ok, err = e.Store.MarkCredited(ctx, enc.ID, enc.FirstSeenAt, now)
	if err != nil {
		return errors.Wrapf(err, "mark encounter %s credited", enc.ID)
	}
	if ok {
		res.Credited++
		if e.Metrics != nil {
			e.Metrics.EncounterCredits.Add(ctx, 1)
		}
		e.Log.Info("[Encounter] pair credited",
			zap.String("encounter_id", enc.ID),
			zap.String("user_a", enc.UserAID),
			zap.String("user_b", enc.UserBID),
			zap.String("amount", e.Cfg.Reward.String()))
	}
	return nil
}

// EncounterKey is the idempotency key for one actor's reward in one pending cycle.
func EncounterKey(enc *models.ProximityEncounter, actorID string) string {
	return fmt.Sprintf("encounter:%s:%d:%s", enc.ID, enc.FirstSeenAt.UnixNano(), actorID)
}

// Prune deletes encounters idle for longer than retention.
func (e *EncounterEngine) Prune(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	n, err := e.Store.PruneEncounters(ctx, now.Add(-retention))
	if err != nil {
		return 0, errors.Wrap(err, "prune encounters")
	}
	if n > 0 {
		e.Log.Info("[Encounter] retention sweep", zap.Int64("deleted", n))
	}
	return n, nil
}
