package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventStatusScheduled EventStatus = "scheduled"
	EventStatusActive    EventStatus = "active"
	EventStatusConfirmed EventStatus = "confirmed"
	EventStatusEnded     EventStatus = "ended"
	EventStatusCancelled EventStatus = "cancelled"
)

// AcceptsAttendance reports whether check-ins and pings are accepted.
func (s EventStatus) AcceptsAttendance() bool {
	return s == EventStatusActive || s == EventStatusConfirmed
}

// Event is a scheduled real-world gathering with a circular geofence.
// Geometry, timing and thresholds are frozen once the event leaves scheduled.
type Event struct {
	ID           string           `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	GroupID      string           `gorm:"type:uuid;not null;index" json:"group_id"`
	CreatedBy    string           `gorm:"type:uuid;not null" json:"created_by"`
	Name         string           `gorm:"not null" json:"name"`
	Description  string           `gorm:"type:text" json:"description,omitempty"`
	Latitude     float64          `gorm:"not null" json:"latitude"`
	Longitude    float64          `gorm:"not null" json:"longitude"`
	RadiusMeters int              `gorm:"not null;default:100" json:"radius_meters"`
	StartsAt     time.Time        `gorm:"not null;index" json:"starts_at"`
	EndsAt       time.Time        `gorm:"not null;index" json:"ends_at"`
	Status       EventStatus      `gorm:"type:varchar(16);not null;default:'scheduled';index" json:"status"`
	ConfirmedAt  *time.Time       `json:"confirmed_at,omitempty"`

	// Optional overrides of the group defaults.
	MinAttendance *int             `json:"min_attendance,omitempty"`
	CurrencyRate  *decimal.Decimal `gorm:"type:numeric(20,6)" json:"currency_rate,omitempty"`

	Timestamps
}

// EffectiveMinAttendance returns the event override, else the group default.
func (e *Event) EffectiveMinAttendance(g *Group) int {
	if e.MinAttendance != nil {
		return *e.MinAttendance
	}
	return g.MinAttendance
}

// EffectiveRate returns the per-minute rate override, else the group default.
func (e *Event) EffectiveRate(g *Group) decimal.Decimal {
	if e.CurrencyRate != nil {
		return *e.CurrencyRate
	}
	return g.CurrencyRate
}

// EventPatch carries the optional fields of an edit. Nil means unchanged.
type EventPatch struct {
	Name          *string
	Description   *string
	Latitude      *float64
	Longitude     *float64
	RadiusMeters  *int
	StartsAt      *time.Time
	EndsAt        *time.Time
	MinAttendance *int
	CurrencyRate  *decimal.Decimal
}

// Apply copies every set field onto the event.
func (p EventPatch) Apply(e *Event) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Latitude != nil {
		e.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		e.Longitude = *p.Longitude
	}
	if p.RadiusMeters != nil {
		e.RadiusMeters = *p.RadiusMeters
	}
	if p.StartsAt != nil {
		e.StartsAt = *p.StartsAt
	}
	if p.EndsAt != nil {
		e.EndsAt = *p.EndsAt
	}
	if p.MinAttendance != nil {
		v := *p.MinAttendance
		e.MinAttendance = &v
	}
	if p.CurrencyRate != nil {
		v := *p.CurrencyRate
		e.CurrencyRate = &v
	}
}

// EventCheckin records one user's attendance at one event. (event_id, user_id) is unique.
type EventCheckin struct {
	ID                  string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	EventID             string          `gorm:"type:uuid;not null;uniqueIndex:idx_checkin_event_user" json:"event_id"`
	UserID              string          `gorm:"type:uuid;not null;uniqueIndex:idx_checkin_event_user;index" json:"user_id"`
	CheckedInAt         time.Time       `gorm:"not null" json:"checked_in_at"`
	CheckedOutAt        *time.Time      `json:"checked_out_at,omitempty"`
	IsWithinRadius      bool            `gorm:"not null;default:false;index" json:"is_within_radius"`
	LastLocationPing    time.Time       `gorm:"not null" json:"last_location_ping"`
	TotalSecondsPresent int64           `gorm:"not null;default:0" json:"total_seconds_present"`
	CurrencyEarned      decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0" json:"currency_earned"`
}
