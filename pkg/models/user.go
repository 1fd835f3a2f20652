package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that owns generation sessions and auth sessions.
// Users are soft-deactivated via IsActive rather than deleted, because
// historical sessions reference them. An explicit hard delete cascades.
type User struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Password    *string    `json:"-"` // bcrypt hash, nil for externally-authenticated users
	TenantID    *string    `json:"tenant_id,omitempty"`
	Roles       []string   `json:"roles"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Role constants.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// DefaultRoles is assigned to users created without an explicit role set.
var DefaultRoles = []string{RoleUser}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
