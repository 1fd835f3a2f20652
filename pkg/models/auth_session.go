package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthSession is one issued refresh token. A user holds one row per device
// or login; rows are deleted on logout, rotation, or expiry sweep.
type AuthSession struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the refresh token is past its expiry.
func (s *AuthSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
