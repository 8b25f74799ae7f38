package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/praxisworks/praxis/internal/shared"
)

func requestWithUser(t *testing.T, target, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	sess := &shared.Session{}
	if userID != "" {
		sess.SetUser(userID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAnyAllowsGranted(t *testing.T) {
	repo := newStubRepo()
	repo.effective = []EffectivePermission{
		{Permission: Permission{Code: "reports.view"}},
	}
	mw := Middleware{Service: NewService(repo, nil, nil)}

	rr := httptest.NewRecorder()
	mw.RequireAny("reports.view", "security.view")(okHandler()).
		ServeHTTP(rr, requestWithUser(t, "/reports", "7"))
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAnyDeniesMissing(t *testing.T) {
	repo := newStubRepo()
	repo.effective = []EffectivePermission{
		{Permission: Permission{Code: "users.view"}},
	}
	mw := Middleware{Service: NewService(repo, nil, nil)}

	rr := httptest.NewRecorder()
	mw.RequireAny("reports.view")(okHandler()).
		ServeHTTP(rr, requestWithUser(t, "/reports", "7"))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAnyDeniesAnonymous(t *testing.T) {
	mw := Middleware{Service: NewService(newStubRepo(), nil, nil)}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	mw.RequireAny("reports.view")(okHandler()).ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	repo := newStubRepo()
	repo.effective = []EffectivePermission{
		{Permission: Permission{Code: "users.view"}},
		{Permission: Permission{Code: "users.edit"}},
	}
	mw := Middleware{Service: NewService(repo, nil, nil)}

	rr := httptest.NewRecorder()
	mw.RequireAll("users.view", "users.edit")(okHandler()).
		ServeHTTP(rr, requestWithUser(t, "/users", "7"))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	mw.RequireAll("users.view", "roles.edit")(okHandler()).
		ServeHTTP(rr, requestWithUser(t, "/users", "7"))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireScoped(t *testing.T) {
	repo := newStubRepo()
	repo.scopes[12] = LevelWrite
	mw := Middleware{Service: NewService(repo, nil, nil)}

	router := chi.NewRouter()
	router.With(mw.RequireScoped("scopeID", LevelWrite)).
		Get("/scopes/{scopeID}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, requestWithUser(t, "/scopes/12", "7"))
	require.Equal(t, http.StatusNoContent, rr.Code)

	routerAdmin := chi.NewRouter()
	routerAdmin.With(mw.RequireScoped("scopeID", LevelAdmin)).
		Get("/scopes/{scopeID}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

	rr = httptest.NewRecorder()
	routerAdmin.ServeHTTP(rr, requestWithUser(t, "/scopes/12", "7"))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireScopedRejectsBadParam(t *testing.T) {
	mw := Middleware{Service: NewService(newStubRepo(), nil, nil)}

	router := chi.NewRouter()
	router.With(mw.RequireScoped("scopeID", LevelRead)).
		Get("/scopes/{scopeID}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, requestWithUser(t, "/scopes/abc", "7"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
