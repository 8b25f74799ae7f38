package users

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/praxisworks/praxis/internal/authz"
	"github.com/praxisworks/praxis/internal/platform/httpx"
	"github.com/praxisworks/praxis/internal/security"
	"github.com/praxisworks/praxis/internal/shared"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	monitor   *security.Monitor
	validator *validator.Validate
	mw        authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, monitor *security.Monitor, mw authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, monitor: monitor, validator: validator.New(), mw: mw}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermUsersView, shared.PermUsersEdit))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermUsersEdit))
		r.Post("/", h.createUser)
		r.Put("/{id}/role", h.assignRole)
		r.Put("/{id}/active", h.setActive)
	})
}

type userView struct {
	ID            int64      `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	RoleID        *int64     `json:"role_id,omitempty"`
	RoleName      string     `json:"role_name,omitempty"`
	IsActive      bool       `json:"is_active"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
	BlockedReason *string    `json:"blocked_reason,omitempty"`
}

func toUserView(user User) userView {
	return userView{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		RoleID:        user.RoleID,
		RoleName:      user.RoleName,
		IsActive:      user.IsActive,
		BlockedUntil:  user.BlockedUntil,
		BlockedReason: user.BlockedReason,
	}
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	views := make([]userView, 0, len(list))
	for _, user := range list {
		views = append(views, toUserView(user))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": views})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserView(user))
}

type createUserForm struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=255"`
	Password string `json:"password" validate:"required,min=8"`
	RoleID   *int64 `json:"role_id"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var form createUserForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.CreateUser(r.Context(), form.Email, form.Name, form.Password, form.RoleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordSensitive(r, "users.create", map[string]any{"user_id": user.ID, "email": user.Email})
	httpx.JSON(w, http.StatusCreated, toUserView(user))
}

type assignRoleForm struct {
	RoleID *int64 `json:"role_id"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var form assignRoleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.service.AssignRole(r.Context(), id, form.RoleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordSensitive(r, "users.assign_role", map[string]any{"user_id": id, "role_id": form.RoleID})
	w.WriteHeader(http.StatusNoContent)
}

type setActiveForm struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var form setActiveForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetActive(r.Context(), id, *form.Active); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recordSensitive(r, "users.set_active", map[string]any{"user_id": id, "active": *form.Active})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordSensitive(r *http.Request, action string, detail map[string]any) {
	if h.monitor == nil {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return
	}
	actorID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return
	}
	h.monitor.RecordSensitiveAction(r.Context(), actorID, action, detail, security.ClientIP(r), r.UserAgent())
}
