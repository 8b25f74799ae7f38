package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/praxisworks/praxis/internal/shared"
)

type override struct {
	granted bool
}

type stubRepo struct {
	roleName    string
	roleErr     error
	rolePerms   map[string]bool
	roleErrFor  map[string]error
	overrides   map[string]override
	overrideOn  map[string]error
	effective   []EffectivePermission
	rolePermIDs []int64
	scopes      map[int64]AccessLevel
	scopeErr    error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		rolePerms:  map[string]bool{},
		roleErrFor: map[string]error{},
		overrides:  map[string]override{},
		overrideOn: map[string]error{},
		scopes:     map[int64]AccessLevel{},
	}
}

func (s *stubRepo) RoleNameForUser(ctx context.Context, userID int64) (string, error) {
	if s.roleErr != nil {
		return "", s.roleErr
	}
	return s.roleName, nil
}

func (s *stubRepo) RoleHasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	if err, ok := s.roleErrFor[code]; ok {
		return false, err
	}
	return s.rolePerms[code], nil
}

func (s *stubRepo) OverrideForUser(ctx context.Context, userID int64, code string) (bool, bool, error) {
	if err, ok := s.overrideOn[code]; ok {
		return false, false, err
	}
	ov, ok := s.overrides[code]
	return ov.granted, ok, nil
}

func (s *stubRepo) EffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	return s.effective, nil
}

func (s *stubRepo) ScopedAccessLevel(ctx context.Context, userID, scopeID int64) (AccessLevel, bool, error) {
	if s.scopeErr != nil {
		return 0, false, s.scopeErr
	}
	level, ok := s.scopes[scopeID]
	return level, ok, nil
}

func (s *stubRepo) ListRoles(ctx context.Context) ([]Role, error) { return nil, nil }
func (s *stubRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	return Role{}, shared.ErrNotFound
}
func (s *stubRepo) CreateRole(ctx context.Context, name, description string) (Role, error) {
	return Role{ID: 1, Name: name, Description: description}, nil
}
func (s *stubRepo) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	return Role{ID: id, Name: name, Description: description}, nil
}
func (s *stubRepo) DeleteRole(ctx context.Context, id int64) error { return nil }
func (s *stubRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	return nil, nil
}
func (s *stubRepo) EnsurePermission(ctx context.Context, code, label, category string) (Permission, error) {
	return Permission{ID: 1, Code: code, Label: label, Category: category}, nil
}
func (s *stubRepo) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	s.rolePermIDs = permissionIDs
	return nil
}
func (s *stubRepo) UpsertOverride(ctx context.Context, userID int64, code string, granted bool) error {
	s.overrides[code] = override{granted: granted}
	return nil
}
func (s *stubRepo) RemoveOverride(ctx context.Context, userID int64, code string) error {
	delete(s.overrides, code)
	return nil
}
func (s *stubRepo) UpsertScopedAccess(ctx context.Context, access ScopedAccess) error {
	s.scopes[access.ScopeID] = access.Level
	return nil
}

var _ Repository = (*stubRepo)(nil)

func TestHasPermissionRoleGrant(t *testing.T) {
	repo := newStubRepo()
	repo.rolePerms["invoices.create"] = true
	svc := NewService(repo, nil, nil)

	ok, err := svc.HasPermission(context.Background(), 7, "invoices.create")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasPermission(context.Background(), 7, "invoices.delete")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasPermissionOverrideBeatsRole(t *testing.T) {
	repo := newStubRepo()
	repo.rolePerms["invoices.create"] = true
	repo.overrides["invoices.create"] = override{granted: false}
	repo.overrides["payroll.view"] = override{granted: true}
	svc := NewService(repo, nil, nil)

	// Explicit deny wins even though the role grants it.
	ok, err := svc.HasPermission(context.Background(), 7, "invoices.create")
	require.NoError(t, err)
	require.False(t, ok)

	// Explicit grant wins even though the role does not carry it.
	ok, err = svc.HasPermission(context.Background(), 7, "payroll.view")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHasPermissionNormalizesCode(t *testing.T) {
	repo := newStubRepo()
	repo.rolePerms["reports.view"] = true
	svc := NewService(repo, nil, nil)

	ok, err := svc.HasPermission(context.Background(), 3, "  Reports.View ")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHasPermissionEmptyCode(t *testing.T) {
	svc := NewService(newStubRepo(), nil, nil)

	_, err := svc.HasPermission(context.Background(), 3, "   ")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestHasPermissionFailsClosedOnStorageError(t *testing.T) {
	repo := newStubRepo()
	repo.rolePerms["reports.view"] = true
	repo.overrideOn["reports.view"] = errors.New("connection reset")
	svc := NewService(repo, nil, nil)

	ok, err := svc.HasPermission(context.Background(), 3, "reports.view")
	require.NoError(t, err)
	require.False(t, ok)

	repo2 := newStubRepo()
	repo2.roleErrFor["reports.view"] = errors.New("connection reset")
	svc2 := NewService(repo2, nil, nil)

	ok, err = svc2.HasPermission(context.Background(), 3, "reports.view")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCollaboratorGainsReportAccessViaOverride(t *testing.T) {
	repo := newStubRepo()
	repo.roleName = "COLLABORATEUR"
	svc := NewService(repo, nil, nil)

	ok, err := svc.HasPermission(context.Background(), 42, shared.PermReportsView)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.SetOverride(context.Background(), 42, shared.PermReportsView, true))

	ok, err = svc.HasPermission(context.Background(), 42, shared.PermReportsView)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.RemoveOverride(context.Background(), 42, shared.PermReportsView))

	ok, err = svc.HasPermission(context.Background(), 42, shared.PermReportsView)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasRoleExactMatch(t *testing.T) {
	repo := newStubRepo()
	repo.roleName = "MANAGER"
	svc := NewService(repo, nil, nil)

	ok, err := svc.HasRole(context.Background(), 5, "MANAGER")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasRole(context.Background(), 5, "ADMIN")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasRoleUnknownPrincipal(t *testing.T) {
	repo := newStubRepo()
	repo.roleErr = shared.ErrNotFound
	svc := NewService(repo, nil, nil)

	ok, err := svc.HasRole(context.Background(), 999, "MANAGER")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasScopedAccessOrdering(t *testing.T) {
	repo := newStubRepo()
	repo.scopes[10] = LevelWrite
	svc := NewService(repo, nil, nil)

	ctx := context.Background()
	ok, err := svc.HasScopedAccess(ctx, 1, 10, LevelRead)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasScopedAccess(ctx, 1, 10, LevelWrite)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasScopedAccess(ctx, 1, 10, LevelAdmin)
	require.NoError(t, err)
	require.False(t, ok)

	// No row for the scope denies.
	ok, err = svc.HasScopedAccess(ctx, 1, 11, LevelRead)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasScopedAccessInvalidLevel(t *testing.T) {
	svc := NewService(newStubRepo(), nil, nil)

	_, err := svc.HasScopedAccess(context.Background(), 1, 10, AccessLevel(9))
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestHasScopedAccessFailsClosedOnStorageError(t *testing.T) {
	repo := newStubRepo()
	repo.scopeErr = errors.New("connection reset")
	svc := NewService(repo, nil, nil)

	ok, err := svc.HasScopedAccess(context.Background(), 1, 10, LevelRead)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseAccessLevel(t *testing.T) {
	level, ok := ParseAccessLevel("WRITE")
	require.True(t, ok)
	require.Equal(t, LevelWrite, level)

	_, ok = ParseAccessLevel("OWNER")
	require.False(t, ok)
}

func TestSetRolePermissionsDeduplicates(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, nil)

	require.NoError(t, svc.SetRolePermissions(context.Background(), 1, []int64{3, 1, 3, 2, 1}))
	require.Equal(t, []int64{3, 1, 2}, repo.rolePermIDs)
}

// mergeRepo resolves the effective listing from role grants and overrides the
// way the SQL union does: any override shadows the role-derived row, a deny
// drops the permission, a grant carries FromOverride.
type mergeRepo struct {
	stubRepo

	catalog   map[int64]Permission
	roleIDs   []int64
	overrides map[int64]bool
}

func (r *mergeRepo) EffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	var out []EffectivePermission
	for _, id := range r.roleIDs {
		if _, overridden := r.overrides[id]; overridden {
			continue
		}
		out = append(out, EffectivePermission{Permission: r.catalog[id]})
	}
	for id, granted := range r.overrides {
		if granted {
			out = append(out, EffectivePermission{Permission: r.catalog[id], FromOverride: true})
		}
	}
	return out, nil
}

func TestListEffectivePermissionsIsASet(t *testing.T) {
	repo := &mergeRepo{
		catalog: map[int64]Permission{
			1: {ID: 1, Code: "reports.view"},
			2: {ID: 2, Code: "users.manage"},
			3: {ID: 3, Code: "security.view"},
		},
		roleIDs:   []int64{1, 2},
		overrides: map[int64]bool{1: true, 2: false, 3: true},
	}
	svc := NewService(repo, nil, nil)

	perms, err := svc.ListEffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, perms, 2)

	byCode := map[string][]EffectivePermission{}
	for _, p := range perms {
		byCode[p.Code] = append(byCode[p.Code], p)
	}
	require.Len(t, byCode["reports.view"], 1)
	require.True(t, byCode["reports.view"][0].FromOverride)
	require.Empty(t, byCode["users.manage"])
	require.Len(t, byCode["security.view"], 1)
	require.True(t, byCode["security.view"][0].FromOverride)
}
