package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/praxisworks/praxis/internal/shared"
)

type repoStub struct {
	users    map[int64]User
	nextID   int64
	lastHash string
}

func newRepoStub() *repoStub {
	return &repoStub{users: map[int64]User{}, nextID: 1}
}

func (s *repoStub) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *repoStub) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *repoStub) CreateUser(ctx context.Context, email, name, passwordHash string, roleID *int64) (User, error) {
	u := User{ID: s.nextID, Email: email, Name: name, RoleID: roleID, IsActive: true}
	s.users[u.ID] = u
	s.nextID++
	s.lastHash = passwordHash
	return u, nil
}

func (s *repoStub) AssignRole(ctx context.Context, userID int64, roleID *int64) error {
	u, ok := s.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.RoleID = roleID
	s.users[userID] = u
	return nil
}

func (s *repoStub) SetActive(ctx context.Context, userID int64, active bool) error {
	u, ok := s.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	s.users[userID] = u
	return nil
}

func TestCreateUserHashesPasswordAndNormalizesEmail(t *testing.T) {
	repo := newRepoStub()
	svc := NewService(repo)

	user, err := svc.CreateUser(context.Background(), "  Alice@Example.COM ", " Alice ", "s3cret", nil)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, "Alice", user.Name)

	require.NotEqual(t, "s3cret", repo.lastHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.lastHash), []byte("s3cret")))
}

func TestAssignRoleReplacesSingleRole(t *testing.T) {
	repo := newRepoStub()
	svc := NewService(repo)

	user, err := svc.CreateUser(context.Background(), "alice@example.com", "Alice", "s3cret", nil)
	require.NoError(t, err)

	manager := int64(2)
	require.NoError(t, svc.AssignRole(context.Background(), user.ID, &manager))
	stored, err := svc.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RoleID)
	require.Equal(t, manager, *stored.RoleID)

	admin := int64(3)
	require.NoError(t, svc.AssignRole(context.Background(), user.ID, &admin))
	stored, err = svc.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, admin, *stored.RoleID)
}

func TestSetActive(t *testing.T) {
	repo := newRepoStub()
	svc := NewService(repo)

	user, err := svc.CreateUser(context.Background(), "alice@example.com", "Alice", "s3cret", nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), user.ID, false))
	stored, err := svc.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)

	require.ErrorIs(t, svc.SetActive(context.Background(), 999, false), shared.ErrNotFound)
}
