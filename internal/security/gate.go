package security

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/praxisworks/praxis/internal/shared"
)

// Gate rejects requests from blocked origins and blocked principals before
// any authorization logic runs, so a blocked subject never learns which
// permissions it lacks. A registry read failure denies (fail closed).
type Gate struct {
	Monitor *Monitor
	Logger  *slog.Logger
}

// Middleware installs the gate in front of the wrapped handler.
func (g Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if ip != "" {
			block, err := g.Monitor.IsOriginBlocked(r.Context(), ip)
			if err != nil {
				g.log("gate origin check failed", slog.String("ip", ip), slog.Any("error", err))
				g.reject(w)
				return
			}
			if block != nil {
				g.log("gate rejected blocked origin", slog.String("ip", ip), slog.Time("expires_at", block.ExpiresAt))
				g.reject(w)
				return
			}
		}
		if userID, ok := currentUserID(r); ok {
			block, err := g.Monitor.IsPrincipalBlocked(r.Context(), userID)
			if err != nil {
				g.log("gate principal check failed", slog.Int64("user_id", userID), slog.Any("error", err))
				g.reject(w)
				return
			}
			if block != nil {
				g.log("gate rejected blocked principal", slog.Int64("user_id", userID), slog.Time("expires_at", block.ExpiresAt))
				g.reject(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g Gate) reject(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func (g Gate) log(msg string, args ...any) {
	if g.Logger != nil {
		g.Logger.Warn(msg, args...)
	}
}

func currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ClientIP extracts the peer address without the port. RemoteAddr is assumed
// to have been rewritten by the RealIP middleware upstream.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
