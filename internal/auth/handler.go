package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/praxisworks/praxis/internal/platform/httpx"
	"github.com/praxisworks/praxis/internal/security"
	"github.com/praxisworks/praxis/internal/shared"
)

const pendingUserKey = "pending_2fa_user"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/2fa/verify", h.handleVerify)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ip := security.ClientIP(r)
	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password, ip, r.UserAgent())
	if !errors.Is(err, shared.ErrSecondFactorRequired) {
		httpx.RespondError(w, shared.ErrInvalidCredentials)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.Set(pendingUserKey, strconv.FormatInt(user.ID, 10))
	httpx.JSON(w, http.StatusOK, map[string]any{"second_factor_required": true})
}

type verifyForm struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var form verifyForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.Get(pendingUserKey) == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no pending login")
		return
	}
	userID, err := strconv.ParseInt(sess.Get(pendingUserKey), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no pending login")
		return
	}
	ip := security.ClientIP(r)
	if err := h.service.VerifySecondFactor(r.Context(), userID, form.Code, ip, r.UserAgent()); err != nil {
		httpx.RespondError(w, shared.ErrInvalidCredentials)
		return
	}
	sess.Delete(pendingUserKey)
	sess.SetUser(strconv.FormatInt(userID, 10))
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if sess.ID != "" {
		if err := h.service.RegisterSession(r.Context(), sess.ID, userID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
			h.logger.Warn("register session", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"authenticated": true})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}
