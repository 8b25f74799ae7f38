package authz

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxisworks/praxis/internal/platform/db"
	"github.com/praxisworks/praxis/internal/shared"
)

// Repository defines the grant-store reads and writes the resolver needs.
type Repository interface {
	RoleNameForUser(ctx context.Context, userID int64) (string, error)
	RoleHasPermission(ctx context.Context, userID int64, code string) (bool, error)
	OverrideForUser(ctx context.Context, userID int64, code string) (granted bool, found bool, err error)
	EffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error)
	ScopedAccessLevel(ctx context.Context, userID, scopeID int64) (AccessLevel, bool, error)

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error

	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermission(ctx context.Context, code, label, category string) (Permission, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	UpsertOverride(ctx context.Context, userID int64, code string, granted bool) error
	RemoveOverride(ctx context.Context, userID int64, code string) error
	UpsertScopedAccess(ctx context.Context, access ScopedAccess) error
}

// PGRepository implements Repository against PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// RoleNameForUser returns the name of the user's assigned role.
func (r *PGRepository) RoleNameForUser(ctx context.Context, userID int64) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT r.name FROM users u JOIN roles r ON r.id = u.role_id WHERE u.id = $1`, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", err
	}
	return name, nil
}

// RoleHasPermission reports whether the user's role carries the permission.
func (r *PGRepository) RoleHasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM users u
			JOIN role_permissions rp ON rp.role_id = u.role_id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE u.id = $1 AND p.code = $2
		)`, userID, code).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// OverrideForUser fetches a direct override row if one exists.
func (r *PGRepository) OverrideForUser(ctx context.Context, userID int64, code string) (bool, bool, error) {
	var granted bool
	err := r.pool.QueryRow(ctx, `
		SELECT o.granted
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1 AND p.code = $2`, userID, code).Scan(&granted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, err
	}
	return granted, true, nil
}

// EffectivePermissions returns role grants merged with overrides. Any
// override shadows the role-derived row: a deny drops the permission, a grant
// represents it alone flagged as direct, so each code appears at most once.
func (r *PGRepository) EffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.code, p.label, p.category, FALSE AS from_override
		FROM users u
		JOIN role_permissions rp ON rp.role_id = u.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE u.id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM user_permission_overrides o
			WHERE o.user_id = u.id AND o.permission_id = p.id
		  )
		UNION
		SELECT p.id, p.code, p.label, p.category, TRUE AS from_override
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1 AND o.granted = TRUE
		ORDER BY code`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []EffectivePermission
	for rows.Next() {
		var ep EffectivePermission
		if err := rows.Scan(&ep.ID, &ep.Code, &ep.Label, &ep.Category, &ep.FromOverride); err != nil {
			return nil, err
		}
		perms = append(perms, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// ScopedAccessLevel returns the granted level for a user on a scope.
func (r *PGRepository) ScopedAccessLevel(ctx context.Context, userID, scopeID int64) (AccessLevel, bool, error) {
	var level string
	err := r.pool.QueryRow(ctx, `SELECT level FROM scope_access WHERE user_id = $1 AND scope_id = $2 AND granted = TRUE`, userID, scopeID).Scan(&level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	parsed, ok := ParseAccessLevel(level)
	if !ok {
		return 0, false, nil
	}
	return parsed, true, nil
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, name, description, created_at, updated_at`, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, shared.ErrDuplicate
		}
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates an existing role.
func (r *PGRepository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, description, created_at, updated_at`, id, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		if isUniqueViolation(err) {
			return Role{}, shared.ErrDuplicate
		}
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role. Roles still assigned to users are protected by
// the role_id foreign key and surface as ErrDuplicate-like conflicts upstream.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListPermissions returns all permissions ordered by code.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, label, category FROM permissions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Label, &p.Category); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// EnsurePermission upserts a permission by code.
func (r *PGRepository) EnsurePermission(ctx context.Context, code, label, category string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (code, label, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET label = EXCLUDED.label, category = EXCLUDED.category
		RETURNING id, code, label, category`, code, label, category).
		Scan(&p.ID, &p.Code, &p.Label, &p.Category)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// ReplaceRolePermissions swaps the full permission set of a role in one
// transaction, so a concurrent read never sees a partially applied set.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, id := range permissionIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				VALUES ($1, $2)
				ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertOverride writes the single override row for (user, permission).
func (r *PGRepository) UpsertOverride(ctx context.Context, userID int64, code string, granted bool) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO user_permission_overrides (user_id, permission_id, granted, created_at)
		SELECT $1, p.id, $3, NOW() FROM permissions p WHERE p.code = $2
		ON CONFLICT (user_id, permission_id) DO UPDATE SET granted = EXCLUDED.granted`, userID, code, granted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RemoveOverride deletes the override row for (user, permission).
func (r *PGRepository) RemoveOverride(ctx context.Context, userID int64, code string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM user_permission_overrides o
		USING permissions p
		WHERE o.permission_id = p.id AND o.user_id = $1 AND p.code = $2`, userID, code)
	return err
}

// UpsertScopedAccess writes the scope grant for (user, scope).
func (r *PGRepository) UpsertScopedAccess(ctx context.Context, access ScopedAccess) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scope_access (user_id, scope_id, level, granted, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, scope_id) DO UPDATE SET level = EXCLUDED.level, granted = EXCLUDED.granted`,
		access.UserID, access.ScopeID, access.Level.String(), access.Granted)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
