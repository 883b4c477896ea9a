package models

import "time"

// ProximityEncounter tracks one unordered pair of users that were detected near
// each other. UserAID is always the smaller identifier so a pair maps to exactly one row.
//
// Lifecycle: pending (CreditedAt nil) -> credited once the pair has dwelled long
// enough -> reset to pending after the cooldown. LastSeenAt is the latest tick the
// pair was detected; a pending cycle that loses sight of the pair starts over.
type ProximityEncounter struct {
	ID          string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserAID     string     `gorm:"type:uuid;not null;uniqueIndex:idx_encounter_pair" json:"user_a_id"`
	UserBID     string     `gorm:"type:uuid;not null;uniqueIndex:idx_encounter_pair;index" json:"user_b_id"`
	FirstSeenAt time.Time  `gorm:"not null;index" json:"first_seen_at"`
	LastSeenAt  time.Time  `gorm:"not null;default:now()" json:"last_seen_at"`
	CreditedAt  *time.Time `json:"credited_at,omitempty"`
}

// SeenSince returns the last sighting, never earlier than the cycle start.
func (e *ProximityEncounter) SeenSince() time.Time {
	if e.LastSeenAt.Before(e.FirstSeenAt) {
		return e.FirstSeenAt
	}
	return e.LastSeenAt
}

// IsPending reports whether the encounter is waiting for its dwell time.
func (e *ProximityEncounter) IsPending() bool {
	return e.CreditedAt == nil
}

// CanonicalPair orders two identifiers so the smaller one comes first.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
