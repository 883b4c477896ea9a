package services

import (
	"context"
	"time"

	"grubs-service/metrics"
	"grubs-service/models"
	"grubs-service/queue"
	"grubs-service/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// AmountPlaces is the number of fractional digits kept on every amount.
const AmountPlaces = 6

// LedgerEntry describes one credit or debit. Amount is always positive; the
// direction comes from the operation.
type LedgerEntry struct {
	ActorID        string
	Amount         decimal.Decimal
	Type           models.TransactionType
	Reference      *models.Reference
	Description    string
	IdempotencyKey string
	At             time.Time
}

type LedgerResult struct {
	Transaction models.Transaction
	NewBalance  decimal.Decimal
	// Replayed is true when the idempotency key matched an existing row.
	Replayed bool
}

// LedgerService is the only writer of balances and transaction rows.
type LedgerService struct {
	Store     repository.LedgerStore
	Publisher queue.TransactionPublisher
	Log       *zap.Logger
	Metrics   *metrics.AppMetrics
}

func NewLedgerService(store repository.LedgerStore, publisher queue.TransactionPublisher, log *zap.Logger) *LedgerService {
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	return &LedgerService{Store: store, Publisher: publisher, Log: log, Metrics: metrics.Get()}
}

func (s *LedgerService) Credit(ctx context.Context, e LedgerEntry) (*LedgerResult, error) {
	return s.apply(ctx, e, false)
}

// Debit fails with ErrInsufficientBalance when the amount exceeds the balance; nothing is written then.
func (s *LedgerService) Debit(ctx context.Context, e LedgerEntry) (*LedgerResult, error) {
	return s.apply(ctx, e, true)
}

func normalizeAmount(a decimal.Decimal) (decimal.Decimal, error) {
	a = a.Round(AmountPlaces)
	if !a.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return a, nil
}

func (s *LedgerService) apply(ctx context.Context, e LedgerEntry, debit bool) (*LedgerResult, error) {
	amount, err := normalizeAmount(e.Amount)
	if err != nil {
		return nil, err
	}
	if !e.Type.Valid() {
		return nil, errors.Wrapf(ErrInvalidTransactionType, "%q", e.Type)
	}
	if e.Reference != nil && (!e.Reference.Kind.Valid() || e.Reference.ID == "") {
		return nil, ErrInvalidReference
	}
	at := e.At
	if at.IsZero() {
		return nil, errors.New("ledger entry has no timestamp")
	}

	signed := amount
	if debit {
		signed = amount.Neg()
	}

	tx, replayed, err := s.Store.Apply(ctx, e.ActorID, e.IdempotencyKey, func(balance decimal.Decimal) (*models.Transaction, error) {
		if debit && amount.GreaterThan(balance) {
			return nil, ErrInsufficientBalance
		}
		row := &models.Transaction{
			Amount:      signed,
			Type:        e.Type,
			Description: e.Description,
			CreatedAt:   at.UTC(),
		}
		row.SetReference(e.Reference)
		return row, nil
	})
	if err != nil {
		s.record(ctx, e.Type, debit, err)
		return nil, translateLedgerError(err)
	}

	res := &LedgerResult{Transaction: *tx, NewBalance: tx.BalanceAfter, Replayed: replayed}
	if replayed {
		if !tx.Amount.Equal(signed) || tx.Type != e.Type {
			s.Log.Warn("[Ledger] idempotency key reused for a different entry",
				zap.String("actor_id", e.ActorID),
				zap.String("key", e.IdempotencyKey),
				zap.String("stored_amount", tx.Amount.String()),
				zap.String("requested_amount", signed.String()))
			return nil, errors.Wrapf(ErrIdempotencyMismatch, "key %q", e.IdempotencyKey)
		}
		if res.NewBalance, err = s.Store.Balance(ctx, e.ActorID); err != nil {
			return nil, translateLedgerError(err)
		}
		s.Log.Debug("[Ledger] replayed idempotent entry",
			zap.String("actor_id", e.ActorID),
			zap.String("key", e.IdempotencyKey))
		return res, nil
	}

	s.record(ctx, e.Type, debit, nil)
	// Published after commit, outside the actor lock.
	if err := s.Publisher.Publish(ctx, *tx); err != nil {
		s.Log.Warn("[Ledger] publish failed", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	return res, nil
}

func translateLedgerError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrActorNotFound
	case errors.Is(err, repository.ErrContention):
		return errors.Wrap(ErrContention, err.Error())
	}
	return err
}

func (s *LedgerService) record(ctx context.Context, typ models.TransactionType, debit bool, err error) {
	if s.Metrics == nil {
		return
	}
	op, outcome := "credit", "ok"
	if debit {
		op = "debit"
	}
	if err != nil {
		outcome = KindOf(translateLedgerError(err)).String()
	}
	s.Metrics.LedgerOpsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("type", string(typ)),
		attribute.String("outcome", outcome),
	))
	if errors.Is(err, repository.ErrContention) {
		s.Metrics.LedgerContention.Add(ctx, 1)
	}
}

// Balance is the actor's current buying power.
func (s *LedgerService) Balance(ctx context.Context, actorID string) (decimal.Decimal, error) {
	b, err := s.Store.Balance(ctx, actorID)
	if err != nil {
		return decimal.Zero, translateLedgerError(err)
	}
	return b, nil
}

type TransactionPage struct {
	Transactions []models.Transaction `json:"transactions"`
	Total        int64                `json:"total"`
	Page         int                  `json:"page"`
	Limit        int                  `json:"limit"`
	TotalPages   int64                `json:"total_pages"`
}

// Transactions returns one page of the actor's history, newest first.
// page starts at 1; limit is clamped to 1..100.
func (s *LedgerService) Transactions(ctx context.Context, actorID string, page, limit int, typ models.TransactionType) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if typ != "" && !typ.Valid() {
		return nil, errors.Wrapf(ErrInvalidTransactionType, "%q", typ)
	}
	if _, err := s.Store.Balance(ctx, actorID); err != nil {
		return nil, translateLedgerError(err)
	}

	rows, total, err := s.Store.ListTransactions(ctx, repository.TransactionFilter{
		UserID: actorID,
		Type:   typ,
		Offset: (page - 1) * limit,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.Transaction{}
	}
	return &TransactionPage{
		Transactions: rows,
		Total:        total,
		Page:         page,
		Limit:        limit,
		TotalPages:   (total + int64(limit) - 1) / int64(limit),
	}, nil
}

// creditWithRetry retries a credit on lock contention only, up to maxTries attempts in total.
func (s *LedgerService) creditWithRetry(ctx context.Context, e LedgerEntry, maxTries uint) (*LedgerResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (*LedgerResult, error) {
		res, err := s.Credit(ctx, e)
		if err != nil && !errors.Is(err, ErrContention) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
}
