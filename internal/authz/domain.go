package authz

import "time"

// Role represents a named permission bundle. A user holds exactly one role.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability identified by a stable code.
// Category is a display grouping only and never feeds decision logic.
type Permission struct {
	ID       int64
	Code     string
	Label    string
	Category string
}

// Override grants or denies a single permission to a single user,
// independent of their role. An explicit deny always wins.
type Override struct {
	UserID       int64
	PermissionID int64
	Granted      bool
	CreatedAt    time.Time
}

// EffectivePermission is a resolved permission together with its provenance.
type EffectivePermission struct {
	Permission
	FromOverride bool
}

// AccessLevel orders scoped access rights.
type AccessLevel int

// Access levels, weakest first.
const (
	LevelRead AccessLevel = iota + 1
	LevelWrite
	LevelAdmin
)

// ParseAccessLevel maps the stored level string to its ordinal.
func ParseAccessLevel(s string) (AccessLevel, bool) {
	switch s {
	case "READ":
		return LevelRead, true
	case "WRITE":
		return LevelWrite, true
	case "ADMIN":
		return LevelAdmin, true
	}
	return 0, false
}

// String returns the stored representation of the level.
func (l AccessLevel) String() string {
	switch l {
	case LevelRead:
		return "READ"
	case LevelWrite:
		return "WRITE"
	case LevelAdmin:
		return "ADMIN"
	}
	return ""
}

// ScopedAccess grants an access level on a resource scope (e.g. a business
// unit), orthogonal to the flat permission model.
type ScopedAccess struct {
	UserID    int64
	ScopeID   int64
	Level     AccessLevel
	Granted   bool
	CreatedAt time.Time
}
