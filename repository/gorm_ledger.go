package repository

import (
	"context"
	"fmt"
	"time"

	"grubs-service/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Apply locks the actor row with SELECT ... FOR UPDATE under a bounded lock_timeout, so two
// ledger operations on the same actor never interleave and a waiter gives up with ErrContention.
func (s *GormStore) Apply(ctx context.Context, actorID, key string, build BuildFunc) (*models.Transaction, bool, error) {
	var (
		out      *models.Transaction
		replayed bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.LockTimeout.Milliseconds())).Error; err != nil {
			return err
		}

		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "wallet_balance").
			Where("id = ?", actorID).
			Take(&user).Error; err != nil {
			return err
		}

		if key != "" {
			var existing models.Transaction
			err := tx.Where("user_id = ? AND idempotency_key = ?", actorID, key).Take(&existing).Error
			if err == nil {
				out, replayed = &existing, true
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		row, err := build(user.WalletBalance)
		if err != nil {
			return err
		}
		if row.ID == "" {
			row.ID = newID()
		}
		row.UserID = actorID
		row.BalanceAfter = user.WalletBalance.Add(row.Amount)
		if key != "" {
			k := key
			row.IdempotencyKey = &k
		}

		if err := tx.Model(&models.User{}).
			Where("id = ?", actorID).
			Update("wallet_balance", row.BalanceAfter).Error; err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, false, mapError(err)
	}
	return out, replayed, nil
}

func (s *GormStore) Balance(ctx context.Context, actorID string) (decimal.Decimal, error) {
	var u models.User
	if err := s.DB.WithContext(ctx).Select("id", "wallet_balance").Take(&u, "id = ?", actorID).Error; err != nil {
		return decimal.Zero, mapError(err)
	}
	return u.WalletBalance, nil
}

func (s *GormStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", f.UserID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, mapError(err)
	}

	var rows []models.Transaction
	if err := q.Order("created_at DESC, seq DESC").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, mapError(err)
	}
	return rows, total, nil
}

func (s *GormStore) TransactionsBetween(ctx context.Context, from, to time.Time) ([]models.Transaction, error) {
	var rows []models.Transaction
	if err := s.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at, seq").
		Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (s *GormStore) earningsQuery(ctx context.Context, actorID string, types []models.TransactionType, since time.Time) *gorm.DB {
	q := s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("user_id = ? AND type IN ? AND amount > 0", actorID, types)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	return q
}

func (s *GormStore) SumEarnings(ctx context.Context, actorID string, types []models.TransactionType, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	row := s.earningsQuery(ctx, actorID, types, since).
		Select("COALESCE(SUM(amount), 0)").
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, mapError(err)
	}
	return sum, nil
}

func (s *GormStore) EarningDays(ctx context.Context, actorID string, types []models.TransactionType, since time.Time) ([]DailyTotal, error) {
	var rows []DailyTotal
	if err := s.earningsQuery(ctx, actorID, types, since).
		Select("(created_at AT TIME ZONE 'UTC')::date AS day, SUM(amount) AS total").
		Group("day").
		Order("day").
		Scan(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	for i := range rows {
		rows[i].Day = time.Date(rows[i].Day.Year(), rows[i].Day.Month(), rows[i].Day.Day(), 0, 0, 0, 0, time.UTC)
	}
	return rows, nil
}

func (s *GormStore) CountEarnings(ctx context.Context, actorID string, typ models.TransactionType, since time.Time) (int64, error) {
	var n int64
	if err := s.earningsQuery(ctx, actorID, []models.TransactionType{typ}, since).Count(&n).Error; err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (s *GormStore) Leaderboard(ctx context.Context, groupID string, types []models.TransactionType, limit int) ([]LeaderboardEntry, error) {
	var rows []LeaderboardEntry
	if err := s.DB.WithContext(ctx).
		Table("memberships AS m").
		Select("u.id AS user_id, u.name AS name, COALESCE(SUM(t.amount), 0) AS total").
		Joins("JOIN users u ON u.id = m.user_id").
		Joins("LEFT JOIN transactions t ON t.user_id = u.id AND t.type IN ? AND t.amount > 0", types).
		Where("m.group_id = ?", groupID).
		Group("u.id, u.name").
		Order("total DESC, u.name").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (s *GormStore) AuditBalances(ctx context.Context) ([]BalanceDrift, error) {
	var rows []BalanceDrift
	if err := s.DB.WithContext(ctx).
		Table("users AS u").
		Select("u.id AS user_id, u.wallet_balance AS balance, COALESCE(SUM(t.amount), 0) AS ledger_sum").
		Joins("LEFT JOIN transactions t ON t.user_id = u.id").
		Group("u.id, u.wallet_balance").
		Having("u.wallet_balance <> COALESCE(SUM(t.amount), 0)").
		Order("u.id").
		Scan(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}
