package users

import "time"

// User represents a principal for administration.
type User struct {
	ID            int64
	Email         string
	Name          string
	RoleID        *int64
	RoleName      string
	IsActive      bool
	BlockedUntil  *time.Time
	BlockedReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
