package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a group member whose position and wallet are tracked.
// WalletBalance is written only by the ledger.
type User struct {
	ID             string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name           string          `gorm:"not null" json:"name"`
	Email          string          `gorm:"index" json:"email,omitempty"`
	LastLatitude   *float64        `json:"last_latitude,omitempty"`
	LastLongitude  *float64        `json:"last_longitude,omitempty"`
	LastLocationAt *time.Time      `gorm:"index" json:"last_location_at,omitempty"`
	IsNearOthers   bool            `gorm:"not null;default:false" json:"is_near_others"`
	WalletBalance  decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0" json:"wallet_balance"`

	Timestamps
}

// HasPosition reports whether the user has ever reported coordinates.
func (u *User) HasPosition() bool {
	return u.LastLatitude != nil && u.LastLongitude != nil
}

// ActiveActor is a snapshot of a recently seen user and the groups they belong to.
// Built fresh every tick; never persisted.
type ActiveActor struct {
	ID             string
	Latitude       float64
	Longitude      float64
	LastLocationAt time.Time
	GroupIDs       []string
}

// SharesGroupWith reports whether both actors belong to at least one common group.
func (a ActiveActor) SharesGroupWith(other ActiveActor) bool {
	for _, g := range a.GroupIDs {
		for _, o := range other.GroupIDs {
			if g == o {
				return true
			}
		}
	}
	return false
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
