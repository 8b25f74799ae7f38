package authz

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/praxisworks/praxis/internal/shared"
)

// ErrInvalidCode flags an empty or malformed permission code. This is the only
// resolver error surfaced to callers; data-access failures and unresolvable
// users fail closed instead, so an outage can never grant access.
var ErrInvalidCode = errors.New("authz: invalid permission code")

// ErrInvalidLevel flags an unknown scoped access level.
var ErrInvalidLevel = errors.New("authz: invalid access level")

// Observer receives the outcome of each authorization decision.
type Observer interface {
	AuthzDecision(kind string, allowed bool)
}

// Service answers permission questions over the grant store and manages
// grants. All decision paths are pure reads.
type Service struct {
	repo     Repository
	cache    *Cache
	logger   *slog.Logger
	observer Observer
}

// NewService constructs a Service.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// SetObserver attaches a decision observer (e.g. metrics).
func (s *Service) SetObserver(obs Observer) {
	s.observer = obs
}

// HasPermission reports whether the user may exercise the permission code.
// Precedence: a direct override beats the role grant; an explicit deny wins
// even when the role grants, an explicit grant wins even when it does not.
func (s *Service) HasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	code = strings.TrimSpace(strings.ToLower(code))
	if code == "" {
		return false, ErrInvalidCode
	}
	allowed := s.resolve(ctx, userID, code)
	s.observe("permission", allowed)
	return allowed, nil
}

func (s *Service) resolve(ctx context.Context, userID int64, code string) bool {
	granted, found, err := s.repo.OverrideForUser(ctx, userID, code)
	if err != nil {
		s.logger.Error("authz override lookup failed", slog.Int64("user_id", userID), slog.String("code", code), slog.Any("error", err))
		return false
	}
	if found {
		return granted
	}
	allowed, err := s.repo.RoleHasPermission(ctx, userID, code)
	if err != nil {
		s.logger.Error("authz role lookup failed", slog.Int64("user_id", userID), slog.String("code", code), slog.Any("error", err))
		return false
	}
	return allowed
}

// HasRole reports whether the user's assigned role matches roleName exactly.
// There is no role hierarchy.
func (s *Service) HasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return false, ErrInvalidCode
	}
	name, err := s.repo.RoleNameForUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("authz role name lookup failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return false, nil
	}
	return name == roleName, nil
}

// ListEffectivePermissions returns the set of permissions the user holds:
// role-derived grants plus override grants, minus override denies. Each code
// appears once; overridden entries carry FromOverride.
func (s *Service) ListEffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	if perms, ok := s.cache.GetPermissions(ctx, userID); ok {
		return perms, nil
	}
	perms, err := s.repo.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.SetPermissions(ctx, userID, perms)
	return perms, nil
}

// HasScopedAccess reports whether the user holds at least minLevel on the
// resource scope. Missing rows and storage failures both deny.
func (s *Service) HasScopedAccess(ctx context.Context, userID, scopeID int64, minLevel AccessLevel) (bool, error) {
	if minLevel < LevelRead || minLevel > LevelAdmin {
		return false, ErrInvalidLevel
	}
	level, found, err := s.repo.ScopedAccessLevel(ctx, userID, scopeID)
	if err != nil {
		s.logger.Error("authz scope lookup failed", slog.Int64("user_id", userID), slog.Int64("scope_id", scopeID), slog.Any("error", err))
		s.observe("scope", false)
		return false, nil
	}
	allowed := found && level >= minLevel
	s.observe("scope", allowed)
	return allowed, nil
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("authz: role name required")
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(description))
}

// UpdateRole updates an existing role.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("authz: role name required")
	}
	role, err := s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.cache.Bump(ctx)
	return role, nil
}

// DeleteRole removes a role by ID.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.cache.Bump(ctx)
	return nil
}

// ListPermissions returns all registered permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// EnsurePermission upserts a permission by code.
func (s *Service) EnsurePermission(ctx context.Context, code, label, category string) (Permission, error) {
	code = strings.TrimSpace(strings.ToLower(code))
	if code == "" {
		return Permission{}, ErrInvalidCode
	}
	return s.repo.EnsurePermission(ctx, code, strings.TrimSpace(label), strings.TrimSpace(category))
}

// SetRolePermissions replaces the permission set of a role atomically.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	unique := make(map[int64]struct{}, len(permissionIDs))
	deduped := make([]int64, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := unique[id]; ok {
			continue
		}
		unique[id] = struct{}{}
		deduped = append(deduped, id)
	}
	if err := s.repo.ReplaceRolePermissions(ctx, roleID, deduped); err != nil {
		return err
	}
	s.cache.Bump(ctx)
	return nil
}

// SetOverride writes the single override row for (user, permission).
func (s *Service) SetOverride(ctx context.Context, userID int64, code string, granted bool) error {
	code = strings.TrimSpace(strings.ToLower(code))
	if code == "" {
		return ErrInvalidCode
	}
	if err := s.repo.UpsertOverride(ctx, userID, code, granted); err != nil {
		return err
	}
	s.cache.Bump(ctx)
	return nil
}

// RemoveOverride deletes the override row for (user, permission).
func (s *Service) RemoveOverride(ctx context.Context, userID int64, code string) error {
	code = strings.TrimSpace(strings.ToLower(code))
	if code == "" {
		return ErrInvalidCode
	}
	if err := s.repo.RemoveOverride(ctx, userID, code); err != nil {
		return err
	}
	s.cache.Bump(ctx)
	return nil
}

// SetScopedAccess writes the scope grant for (user, scope).
func (s *Service) SetScopedAccess(ctx context.Context, access ScopedAccess) error {
	if access.Level < LevelRead || access.Level > LevelAdmin {
		return ErrInvalidLevel
	}
	if err := s.repo.UpsertScopedAccess(ctx, access); err != nil {
		return err
	}
	s.cache.Bump(ctx)
	return nil
}

func (s *Service) observe(kind string, allowed bool) {
	if s.observer != nil {
		s.observer.AuthzDecision(kind, allowed)
	}
}
