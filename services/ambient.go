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

type AmbientConfig struct {
	RadiusMeters float64
	HourlyRate   decimal.Decimal
	TickInterval time.Duration
	ActiveWindow time.Duration
}

func DefaultAmbientConfig() AmbientConfig {
	return AmbientConfig{
		RadiusMeters: 300,
		HourlyRate:   decimal.NewFromInt(2),
		TickInterval: time.Minute,
		ActiveWindow: 2 * time.Minute,
	}
}

// PerTickAmount is the hourly rate scaled to one tick interval.
func (c AmbientConfig) PerTickAmount() decimal.Decimal {
	secs := decimal.NewFromFloat(c.TickInterval.Seconds())
	return c.HourlyRate.Mul(secs).Div(decimal.NewFromInt(3600)).Round(AmountPlaces)
}

type AmbientResult struct {
	Near     int
	Credited int
	Errors   []string
}

// AmbientTick rewards simple presence near any group-mate on every tick.
type AmbientTick struct {
	Actors   repository.ActorStore
	Ledger   *LedgerService
	Cfg      AmbientConfig
	MaxTries uint
	Log      *zap.Logger
	Metrics  *metrics.AppMetrics
}

func NewAmbientTick(actors repository.ActorStore, ledger *LedgerService, cfg AmbientConfig, log *zap.Logger) *AmbientTick {
	return &AmbientTick{Actors: actors, Ledger: ledger, Cfg: cfg, MaxTries: 3, Log: log, Metrics: metrics.Get()}
}

// NearFlags computes, for every actor, whether any group-mate is within radius.
func NearFlags(actors []models.ActiveActor, radius float64) map[string]bool {
	flags := make(map[string]bool, len(actors))
	for i, a := range actors {
		if flags[a.ID] {
			continue
		}
		flags[a.ID] = false
		for j, b := range actors {
			if i == j || a.ID == b.ID || !a.SharesGroupWith(b) {
				continue
			}
			if utils.IsWithinRadius(a.Latitude, a.Longitude, b.Latitude, b.Longitude, radius) {
				flags[a.ID] = true
				flags[b.ID] = true
				break
			}
		}
	}
	return flags
}

func (t *AmbientTick) Run(ctx context.Context, actors []models.ActiveActor, now time.Time) (AmbientResult, error) {
	var res AmbientResult

	flags := NearFlags(actors, t.Cfg.RadiusMeters)
	if err := t.Actors.SetNearOthers(ctx, flags); err != nil {
		return res, errors.Wrap(err, "set near-others flags")
	}
	if _, err := t.Actors.ClearStaleNearOthers(ctx, now.Add(-t.Cfg.ActiveWindow)); err != nil {
		return res, errors.Wrap(err, "clear stale near-others flags")
	}

	amount := t.Cfg.PerTickAmount()
	if !amount.IsPositive() {
		return res, nil
	}
	slot := TickSlot(now, t.Cfg.TickInterval)

	for _, a := range actors {
		if !flags[a.ID] {
			continue
		}
		res.Near++
		_, err := t.Ledger.creditWithRetry(ctx, LedgerEntry{
			ActorID:        a.ID,
			Amount:         amount,
			Type:           models.TxAmbientEarning,
			Description:    "Near group members",
			IdempotencyKey: fmt.Sprintf("ambient:%s:%d", a.ID, slot),
			At:             now,
		}, t.MaxTries)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("ambient %s: %v", a.ID, err))
			t.Log.Warn("[Ambient] credit failed", zap.String("actor_id", a.ID), zap.Error(err))
			continue
		}
		res.Credited++
	}
	if t.Metrics != nil && res.Credited > 0 {
		t.Metrics.AmbientCredits.Add(ctx, int64(res.Credited))
	}
	return res, nil
}

// TickSlot is the start of the tick period containing now, in Unix seconds.
func TickSlot(now time.Time, interval time.Duration) int64 {
	if interval <= 0 {
		interval = time.Minute
	}
	return now.Truncate(interval).Unix()
}
