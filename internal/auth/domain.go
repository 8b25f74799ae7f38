package auth

import "time"

// User represents an authenticated user account. BlockedUntil mirrors the
// block registry so the identity layer can reflect containment state.
type User struct {
	ID            int64
	Email         string
	Name          string
	PasswordHash  string
	RoleID        *int64
	IsActive      bool
	BlockedUntil  *time.Time
	BlockedReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
