package models

import "time"

// SubjectTier is owned by the billing service; this pipeline only reads it.
type SubjectTier struct {
	SubjectID     string     `gorm:"primaryKey" json:"subject_id"`
	Tier          string     `gorm:"not null;default:'free'" json:"tier"`
	TierExpiresAt *time.Time `json:"tier_expires_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (SubjectTier) TableName() string {
	return "subject_tiers"
}

// Expired reports whether the subscription has lapsed. Nil expiry means
// a non-expiring tier.
func (t *SubjectTier) Expired(now time.Time) bool {
	return t.TierExpiresAt != nil && t.TierExpiresAt.Before(now)
}
