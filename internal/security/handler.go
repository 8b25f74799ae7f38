package security

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/praxisworks/praxis/internal/authz"
	"github.com/praxisworks/praxis/internal/platform/httpx"
	"github.com/praxisworks/praxis/internal/shared"
)

// Handler exposes the security report and block registry endpoints.
type Handler struct {
	logger   *slog.Logger
	monitor  *Monitor
	reporter *Reporter
	mw       authz.Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, monitor *Monitor, reporter *Reporter, mw authz.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, monitor: monitor, reporter: reporter, mw: mw}
}

// MountRoutes registers security routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermSecurityView, shared.PermSecurityManage))
		r.Get("/report", h.report)
		r.Get("/blocks", h.listBlocks)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermSecurityManage))
		r.Delete("/blocks/{kind}/{subject}", h.liftBlock)
	})
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 365 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Window", "days must be between 1 and 365")
			return
		}
		days = parsed
	}
	report, err := h.reporter.GenerateReport(r.Context(), days)
	if err != nil {
		h.logger.Error("security report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

type blockView struct {
	SubjectKind string `json:"subject_kind"`
	Subject     string `json:"subject"`
	Reason      string `json:"reason"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at"`
}

func (h *Handler) listBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.monitor.ListActiveBlocks(r.Context())
	if err != nil {
		h.logger.Error("security list blocks", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]blockView, 0, len(blocks))
	for _, b := range blocks {
		views = append(views, blockView{
			SubjectKind: string(b.SubjectKind),
			Subject:     b.Subject,
			Reason:      b.Reason,
			CreatedAt:   b.CreatedAt.Format(time.RFC3339),
			ExpiresAt:   b.ExpiresAt.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"blocks": views})
}

func (h *Handler) liftBlock(w http.ResponseWriter, r *http.Request) {
	kind := SubjectKind(chi.URLParam(r, "kind"))
	if kind != SubjectPrincipal && kind != SubjectOrigin {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Subject Kind", "kind must be principal or origin")
		return
	}
	subject := chi.URLParam(r, "subject")
	if subject == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Subject", "subject required")
		return
	}
	if err := h.monitor.LiftBlock(r.Context(), kind, subject); err != nil {
		h.logger.Error("security lift block", slog.String("subject", subject), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
