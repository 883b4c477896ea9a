package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"grubs-service/queue"
	"grubs-service/repository"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ObjectWriter is the slice of an object store the archiver needs.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// LedgerArchiver copies one UTC day of ledger rows to object storage as JSON lines.
type LedgerArchiver struct {
	Store   repository.LedgerStore
	Objects ObjectWriter
	Log     *zap.Logger
}

func NewLedgerArchiver(store repository.LedgerStore, objects ObjectWriter, log *zap.Logger) *LedgerArchiver {
	return &LedgerArchiver{Store: store, Objects: objects, Log: log}
}

// ArchiveKey is the object key holding the given UTC day.
func ArchiveKey(day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("ledger/%04d/%02d/%02d.jsonl", day.Year(), day.Month(), day.Day())
}

// ArchivePreviousDay archives the UTC day before now.
func (a *LedgerArchiver) ArchivePreviousDay(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return a.ArchiveDay(ctx, today.AddDate(0, 0, -1))
}

// ArchiveDay writes every row created on day, in creation order. Re-running overwrites
// the same object, so a retried day is harmless. Days with no rows write nothing.
func (a *LedgerArchiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	day = day.UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := a.Store.TransactionsBetween(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return 0, errors.Wrap(err, "load transactions")
	}
	if len(rows) == 0 {
		a.Log.Info("[Archive] nothing to archive", zap.String("day", from.Format(time.DateOnly)))
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, tx := range rows {
		if err := enc.Encode(queue.NewTransactionMessage(tx)); err != nil {
			return 0, errors.Wrapf(err, "encode transaction %s", tx.ID)
		}
	}

	key := ArchiveKey(from)
	if err := a.Objects.PutObject(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, err
	}
	a.Log.Info("[Archive] ledger day archived", zap.String("key", key), zap.Int("rows", len(rows)))
	return len(rows), nil
}
