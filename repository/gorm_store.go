package repository

import (
	"context"
	"time"

	"grubs-service/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the PostgreSQL implementation of Store.
type GormStore struct {
	DB          *gorm.DB
	LockTimeout time.Duration
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB, lockTimeout time.Duration) *GormStore {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &GormStore{DB: db, LockTimeout: lockTimeout}
}

// AllModels lists every table the service owns, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Group{},
		&models.Membership{},
		&models.Event{},
		&models.EventCheckin{},
		&models.ProximityEncounter{},
		&models.Transaction{},
	}
}

func (s *GormStore) Migrate() error {
	if err := s.DB.AutoMigrate(AllModels()...); err != nil {
		return err
	}
	// Idempotency keys used to be unique across all users.
	m := s.DB.Migrator()
	if m.HasIndex(&models.Transaction{}, "idx_transactions_idempotency_key") {
		return m.DropIndex(&models.Transaction{}, "idx_transactions_idempotency_key")
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PostgreSQL error codes that mean the caller may retry.
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return errors.Wrap(ErrContention, pgErr.Message)
		case pgUniqueViolation:
			return errors.Wrap(ErrConflict, pgErr.Message)
		}
	}
	return err
}

// --- actors ---

func (s *GormStore) GetActor(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.DB.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (s *GormStore) GetActors(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, mapError(err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (s *GormStore) UpdatePosition(ctx context.Context, id string, lat, lon float64, at time.Time) (*models.User, error) {
	db := s.DB.WithContext(ctx)
	res := db.Model(&models.User{}).
		Where("id = ? AND (last_location_at IS NULL OR last_location_at <= ?)", id, at).
		Updates(map[string]interface{}{
			"last_latitude":    lat,
			"last_longitude":   lon,
			"last_location_at": at,
		})
	if res.Error != nil {
		return nil, mapError(res.Error)
	}
	// Zero rows means unknown actor or a stale report; GetActor tells them apart.
	return s.GetActor(ctx, id)
}

func (s *GormStore) ActiveActors(ctx context.Context, since time.Time) ([]models.ActiveActor, error) {
	db := s.DB.WithContext(ctx)

	var users []models.User
	if err := db.Select("id", "last_latitude", "last_longitude", "last_location_at").
		Where("last_location_at >= ? AND last_latitude IS NOT NULL AND last_longitude IS NOT NULL", since).
		Order("id").
		Find(&users).Error; err != nil {
		return nil, mapError(err)
	}
	if len(users) == 0 {
		return nil, nil
	}

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	var memberships []models.Membership
	if err := db.Select("group_id", "user_id").Where("user_id IN ?", ids).Find(&memberships).Error; err != nil {
		return nil, mapError(err)
	}
	groups := make(map[string][]string, len(users))
	for _, m := range memberships {
		groups[m.UserID] = append(groups[m.UserID], m.GroupID)
	}

	actors := make([]models.ActiveActor, 0, len(users))
	for _, u := range users {
		gids := groups[u.ID]
		if len(gids) == 0 {
			continue
		}
		actors = append(actors, models.ActiveActor{
			ID:             u.ID,
			Latitude:       *u.LastLatitude,
			Longitude:      *u.LastLongitude,
			LastLocationAt: *u.LastLocationAt,
			GroupIDs:       gids,
		})
	}
	return actors, nil
}

func (s *GormStore) SetNearOthers(ctx context.Context, flags map[string]bool) error {
	var near, far []string
	for id, v := range flags {
		if v {
			near = append(near, id)
		} else {
			far = append(far, id)
		}
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(near) > 0 {
			if err := tx.Model(&models.User{}).Where("id IN ?", near).Update("is_near_others", true).Error; err != nil {
				return err
			}
		}
		if len(far) > 0 {
			if err := tx.Model(&models.User{}).Where("id IN ?", far).Update("is_near_others", false).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return mapError(err)
}

func (s *GormStore) ClearStaleNearOthers(ctx context.Context, before time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("is_near_others = ? AND (last_location_at IS NULL OR last_location_at < ?)", true, before).
		Update("is_near_others", false)
	return res.RowsAffected, mapError(res.Error)
}

func (s *GormStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var g models.Group
	if err := s.DB.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &g, nil
}

func (s *GormStore) GetGroupBySlug(ctx context.Context, slug string) (*models.Group, error) {
	var g models.Group
	if err := s.DB.WithContext(ctx).First(&g, "slug = ?", slug).Error; err != nil {
		return nil, mapError(err)
	}
	return &g, nil
}

func (s *GormStore) GetMembership(ctx context.Context, groupID, userID string) (*models.Membership, error) {
	var m models.Membership
	if err := s.DB.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Take(&m).Error; err != nil {
		return nil, mapError(err)
	}
	return &m, nil
}

func (s *GormStore) MembershipsOf(ctx context.Context, userID string) ([]models.Membership, error) {
	var ms []models.Membership
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("joined_at").Find(&ms).Error; err != nil {
		return nil, mapError(err)
	}
	return ms, nil
}

// --- encounters ---

func (s *GormStore) FindEncounter(ctx context.Context, userA, userB string) (*models.ProximityEncounter, error) {
	a, b := models.CanonicalPair(userA, userB)
	var enc models.ProximityEncounter
	if err := s.DB.WithContext(ctx).
		Where("user_a_id = ? AND user_b_id = ?", a, b).
		Take(&enc).Error; err != nil {
		return nil, mapError(err)
	}
	return &enc, nil
}

func (s *GormStore) CreateEncounter(ctx context.Context, enc *models.ProximityEncounter) (*models.ProximityEncounter, bool, error) {
	enc.UserAID, enc.UserBID = models.CanonicalPair(enc.UserAID, enc.UserBID)
	if enc.ID == "" {
		enc.ID = newID()
	}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_a_id"}, {Name: "user_b_id"}},
			DoNothing: true,
		}).
		Create(enc)
	if res.Error != nil {
		return nil, false, mapError(res.Error)
	}
	if res.RowsAffected == 1 {
		return enc, true, nil
	}
	existing, err := s.FindEncounter(ctx, enc.UserAID, enc.UserBID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *GormStore) MarkCredited(ctx context.Context, id string, firstSeenAt, at time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.ProximityEncounter{}).
		Where("id = ? AND credited_at IS NULL AND first_seen_at = ?", id, firstSeenAt).
		Update("credited_at", at)
	return res.RowsAffected == 1, mapError(res.Error)
}

func (s *GormStore) pendingCycle(ctx context.Context, id string, firstSeenAt time.Time) *gorm.DB {
	return s.DB.WithContext(ctx).Model(&models.ProximityEncounter{}).
		Where("id = ? AND credited_at IS NULL AND first_seen_at = ?", id, firstSeenAt)
}

func (s *GormStore) TouchEncounter(ctx context.Context, id string, firstSeenAt, at time.Time) (bool, error) {
	res := s.pendingCycle(ctx, id, firstSeenAt).Update("last_seen_at", at)
	return res.RowsAffected == 1, mapError(res.Error)
}

func (s *GormStore) RestartEncounter(ctx context.Context, id string, firstSeenAt, at time.Time) (bool, error) {
	res := s.pendingCycle(ctx, id, firstSeenAt).Updates(map[string]interface{}{
		"first_seen_at": at,
		"last_seen_at":  at,
	})
	return res.RowsAffected == 1, mapError(res.Error)
}

func (s *GormStore) ResetEncounter(ctx context.Context, id string, creditedAt, at time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.ProximityEncounter{}).
		Where("id = ? AND credited_at = ?", id, creditedAt).
		Updates(map[string]interface{}{
			"first_seen_at": at,
			"last_seen_at":  at,
			"credited_at":   gorm.Expr("NULL"),
		})
	return res.RowsAffected == 1, mapError(res.Error)
}

func (s *GormStore) PruneEncounters(ctx context.Context, before time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("first_seen_at < ? AND last_seen_at < ? AND (credited_at IS NULL OR credited_at < ?)", before, before, before).
		Delete(&models.ProximityEncounter{})
	return res.RowsAffected, mapError(res.Error)
}
