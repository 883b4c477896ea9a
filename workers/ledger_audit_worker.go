package workers

import (
	"context"
	"time"

	"grubs-service/repository"

	"go.uber.org/zap"
)

// LedgerAuditWorker periodically checks that every stored balance equals the sum of the
// actor's ledger rows. It only reports; balances are never rewritten here.
type LedgerAuditWorker struct {
	store    repository.LedgerStore
	interval time.Duration
	log      *zap.Logger
}

func NewLedgerAuditWorker(store repository.LedgerStore, interval time.Duration, log *zap.Logger) *LedgerAuditWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &LedgerAuditWorker{store: store, interval: interval, log: log}
}

func (w *LedgerAuditWorker) Start(ctx context.Context) {
	w.log.Info("[Audit] starting ledger audit worker", zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *LedgerAuditWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("[Audit] ledger audit worker stopped")
			return
		case <-ticker.C:
			if _, err := w.Audit(ctx); err != nil {
				w.log.Error("[Audit] audit failed", zap.Error(err))
			}
		}
	}
}

// Audit runs one pass and returns the actors whose balance has drifted.
func (w *LedgerAuditWorker) Audit(ctx context.Context) ([]repository.BalanceDrift, error) {
	drift, err := w.store.AuditBalances(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range drift {
		w.log.Error("[Audit] balance does not match ledger",
			zap.String("actor_id", d.UserID),
			zap.String("balance", d.Balance.String()),
			zap.String("ledger_sum", d.LedgerSum.String()))
	}
	if len(drift) == 0 {
		w.log.Debug("[Audit] balances consistent")
	}
	return drift, nil
}
