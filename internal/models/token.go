package models

import (
	"time"

	"gorm.io/datatypes"
)

// EnrollmentToken is a shared secret gating agent registration.
// AllowedProfiles is registration-time bookkeeping only; the resolver
// does not consult it.
type EnrollmentToken struct {
	ID              int64                      `gorm:"primaryKey" json:"id"`
	Name            string                     `gorm:"not null" json:"name"`
	TokenValue      string                     `gorm:"uniqueIndex;not null" json:"token_value"`
	Description     string                     `gorm:"type:text" json:"description"`
	ExpiresAt       *time.Time                 `json:"expires_at"`
	AllowedProfiles datatypes.JSONSlice[int64] `json:"allowed_profiles"`
	CreatedAt       time.Time                  `gorm:"autoCreateTime" json:"created_at"`
}

func (EnrollmentToken) TableName() string { return "enrollment_tokens" }

// Expired reports whether the token carries an expiry in the past.
func (t EnrollmentToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}
