package models

import (
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MembershipRole is the role a user holds inside a group.
type MembershipRole string

const (
	RoleOwner  MembershipRole = "owner"
	RoleAdmin  MembershipRole = "admin"
	RoleMember MembershipRole = "member"
)

// CanManageEvents reports whether the role may create, edit or cancel events.
func (r MembershipRole) CanManageEvents() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Group is read-only to the earning engine. Its defaults apply to every event
// that does not override them.
type Group struct {
	ID            string          `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name          string          `gorm:"not null" json:"name"`
	Slug          string          `gorm:"uniqueIndex;not null" json:"slug"`
	CurrencyRate  decimal.Decimal `gorm:"type:numeric(20,6);not null;default:1" json:"currency_rate"` // Grubs per minute
	MinAttendance int             `gorm:"not null;default:2" json:"min_attendance"`

	Timestamps
}

// EnsureSlug derives the URL slug from the group name when none is set.
func (g *Group) EnsureSlug() {
	if g.Slug == "" {
		g.Slug = slug.Make(g.Name)
	}
}

// BeforeCreate is the gorm hook that fills in the slug.
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	g.EnsureSlug()
	return nil
}

// Membership links a user to a group. (group_id, user_id) is unique.
type Membership struct {
	ID       string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	GroupID  string         `gorm:"type:uuid;not null;uniqueIndex:idx_membership_group_user" json:"group_id"`
	UserID   string         `gorm:"type:uuid;not null;uniqueIndex:idx_membership_group_user;index" json:"user_id"`
	Role     MembershipRole `gorm:"type:varchar(16);not null;default:'member'" json:"role"`
	JoinedAt time.Time      `gorm:"autoCreateTime" json:"joined_at"`
}
