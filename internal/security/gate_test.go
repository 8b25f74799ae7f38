package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxisworks/praxis/internal/shared"
)

func gateRequest(remoteAddr, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.RemoteAddr = remoteAddr
	sess := &shared.Session{}
	if userID != "" {
		sess.SetUser(userID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func serveGate(t *testing.T, gate *Gate, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)
	return rr
}

func TestGatePassesUnblockedRequest(t *testing.T) {
	repo := newMemRepo()
	gate := &Gate{Monitor: NewMonitor(repo, nil)}

	rr := serveGate(t, gate, gateRequest("198.51.100.7:51234", "7"))
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestGateRejectsBlockedOrigin(t *testing.T) {
	repo := newMemRepo()
	monitor := NewMonitor(repo, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	monitor.SetClock(fixedClock(now))
	require.NoError(t, repo.UpsertBlock(context.Background(), Block{
		SubjectKind: SubjectOrigin,
		Subject:     "198.51.100.7",
		Reason:      "too many failures",
		CreatedAt:   now,
		ExpiresAt:   now.Add(OriginBlockDuration),
	}))
	gate := &Gate{Monitor: monitor}

	rr := serveGate(t, gate, gateRequest("198.51.100.7:51234", ""))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestGateRejectsBlockedPrincipal(t *testing.T) {
	repo := newMemRepo()
	monitor := NewMonitor(repo, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	monitor.SetClock(fixedClock(now))
	require.NoError(t, repo.UpsertBlock(context.Background(), Block{
		SubjectKind: SubjectPrincipal,
		Subject:     "42",
		Reason:      "failed second factor",
		CreatedAt:   now,
		ExpiresAt:   now.Add(PrincipalBlockDuration),
	}))
	gate := &Gate{Monitor: monitor}

	rr := serveGate(t, gate, gateRequest("203.0.113.9:443", "42"))
	require.Equal(t, http.StatusForbidden, rr.Code)

	// A different principal from the same unblocked origin passes.
	rr = serveGate(t, gate, gateRequest("203.0.113.9:443", "7"))
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestGateHonorsExpiry(t *testing.T) {
	repo := newMemRepo()
	monitor := NewMonitor(repo, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertBlock(context.Background(), Block{
		SubjectKind: SubjectOrigin,
		Subject:     "198.51.100.7",
		Reason:      "too many failures",
		CreatedAt:   now,
		ExpiresAt:   now.Add(OriginBlockDuration),
	}))
	gate := &Gate{Monitor: monitor}

	monitor.SetClock(fixedClock(now.Add(OriginBlockDuration + time.Second)))
	rr := serveGate(t, gate, gateRequest("198.51.100.7:51234", ""))
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestGateFailsClosedOnRegistryError(t *testing.T) {
	repo := newMemRepo()
	repo.blockErr = context.DeadlineExceeded
	gate := &Gate{Monitor: NewMonitor(repo, nil)}

	rr := serveGate(t, gate, gateRequest("198.51.100.7:51234", ""))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestClientIPStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:51234"
	require.Equal(t, "198.51.100.7", ClientIP(req))

	req.RemoteAddr = "198.51.100.7"
	require.Equal(t, "198.51.100.7", ClientIP(req))
}
