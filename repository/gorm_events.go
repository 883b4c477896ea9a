package repository

import (
	"context"
	"time"

	"grubs-service/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func (s *GormStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	if err := s.DB.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &e, nil
}

func (s *GormStore) CreateEvent(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = newID()
	}
	return mapError(s.DB.WithContext(ctx).Create(e).Error)
}

func (s *GormStore) UpdateScheduledEvent(ctx context.Context, e *models.Event) error {
	res := s.DB.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND status = ?", e.ID, models.EventStatusScheduled).
		Updates(map[string]interface{}{
			"name":           e.Name,
			"description":    e.Description,
			"latitude":       e.Latitude,
			"longitude":      e.Longitude,
			"radius_meters":  e.RadiusMeters,
			"starts_at":      e.StartsAt,
			"ends_at":        e.EndsAt,
			"min_attendance": e.MinAttendance,
			"currency_rate":  e.CurrencyRate,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *GormStore) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	q := s.DB.WithContext(ctx).Model(&models.Event{})
	if f.GroupID != "" {
		q = q.Where("group_id = ?", f.GroupID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.StartsAtOrBefore != nil {
		q = q.Where("starts_at <= ?", *f.StartsAtOrBefore)
	}
	if f.EndsAtOrBefore != nil {
		q = q.Where("ends_at <= ?", *f.EndsAtOrBefore)
	}
	if f.EndsAfter != nil {
		q = q.Where("ends_at > ?", *f.EndsAfter)
	}
	var events []models.Event
	if err := q.Order("starts_at, id").Find(&events).Error; err != nil {
		return nil, mapError(err)
	}
	return events, nil
}

func (s *GormStore) TransitionEvent(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus, at time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if to == models.EventStatusConfirmed {
		updates["confirmed_at"] = at
	}
	res := s.DB.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, mapError(res.Error)
}

func (s *GormStore) EndEvent(ctx context.Context, id string, at time.Time) (bool, int64, error) {
	var (
		ended  bool
		closed int64
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Event{}).
			Where("id = ? AND status IN ?", id, []models.EventStatus{models.EventStatusActive, models.EventStatusConfirmed}).
			Update("status", models.EventStatusEnded)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		ended = true

		res = tx.Model(&models.EventCheckin{}).
			Where("event_id = ? AND checked_out_at IS NULL", id).
			Updates(map[string]interface{}{
				"checked_out_at":   at,
				"is_within_radius": false,
			})
		if res.Error != nil {
			return res.Error
		}
		closed = res.RowsAffected
		return nil
	})
	if err != nil {
		return false, 0, mapError(err)
	}
	return ended, closed, nil
}

func (s *GormStore) GetCheckin(ctx context.Context, eventID, userID string) (*models.EventCheckin, error) {
	var c models.EventCheckin
	if err := s.DB.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Take(&c).Error; err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (s *GormStore) CreateCheckin(ctx context.Context, c *models.EventCheckin) error {
	if c.ID == "" {
		c.ID = newID()
	}
	return mapError(s.DB.WithContext(ctx).Create(c).Error)
}

func (s *GormStore) UpdateCheckinPresence(ctx context.Context, id string, within bool, pingAt time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.EventCheckin{}).
		Where("id = ? AND checked_out_at IS NULL", id).
		Updates(map[string]interface{}{
			"is_within_radius":   within,
			"last_location_ping": pingAt,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListCheckins(ctx context.Context, eventID string) ([]models.EventCheckin, error) {
	var rows []models.EventCheckin
	if err := s.DB.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("checked_in_at, id").
		Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (s *GormStore) CountWithinRadius(ctx context.Context, eventID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.EventCheckin{}).
		Where("event_id = ? AND is_within_radius = ? AND checked_out_at IS NULL", eventID, true).
		Count(&n).Error
	return n, mapError(err)
}

func (s *GormStore) RecordPresence(ctx context.Context, checkinID string, seconds int64, earned decimal.Decimal) error {
	res := s.DB.WithContext(ctx).Model(&models.EventCheckin{}).
		Where("id = ?", checkinID).
		Updates(map[string]interface{}{
			"total_seconds_present": gorm.Expr("total_seconds_present + ?", seconds),
			"currency_earned":       gorm.Expr("currency_earned + ?", earned),
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
