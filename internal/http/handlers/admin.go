package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-concierge/internal/automation"
	"github.com/wolfman30/clinic-concierge/internal/budget"
	"github.com/wolfman30/clinic-concierge/internal/http/middleware"
	"github.com/wolfman30/clinic-concierge/internal/messagelog"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/internal/tenant"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

// SessionAdmin is the subset of session.Store used by operators.
type SessionAdmin interface {
	Reset(ctx context.Context, identity string) (*session.Session, error)
	Stats(ctx context.Context) session.Stats
}

type BudgetReader interface {
	Snapshot() budget.Snapshot
	Limits() budget.Limits
}

type MessageReader interface {
	Recent(ctx context.Context, identity string, limit int) ([]messagelog.Message, error)
}

type TenantWriter interface {
	Set(ctx context.Context, cfg *tenant.Config) error
}

// AdminHandler hosts the JWT-protected operator endpoints.
type AdminHandler struct {
	toggles  automation.Toggles
	sessions SessionAdmin
	budget   BudgetReader
	messages MessageReader
	tenants  TenantWriter
	logger   *logging.Logger
}

type AdminConfig struct {
	Toggles  automation.Toggles
	Sessions SessionAdmin
	Budget   BudgetReader
	Messages MessageReader
	Tenants  TenantWriter
	Logger   *logging.Logger
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	if cfg.Toggles == nil {
		panic("handlers: automation toggles cannot be nil")
	}
	if cfg.Sessions == nil {
		panic("handlers: session store cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AdminHandler{
		toggles:  cfg.Toggles,
		sessions: cfg.Sessions,
		budget:   cfg.Budget,
		messages: cfg.Messages,
		tenants:  cfg.Tenants,
		logger:   cfg.Logger,
	}
}

type automationRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetAutomation handles PUT /admin/conversations/{identity}/automation.
func (h *AdminHandler) SetAutomation(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(chi.URLParam(r, "identity"))
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity required")
		return
	}
	var req automationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": bool}`)
		return
	}
	actor := middleware.AdminActor(r.Context())
	if err := h.toggles.SetEnabled(r.Context(), identity, *req.Enabled, actor); err != nil {
		h.logger.Error("failed to update automation toggle", "error", err, "identity", identity)
		writeError(w, http.StatusInternalServerError, "failed to update automation")
		return
	}
	h.logger.Info("automation toggled", "identity", identity, "enabled", *req.Enabled, "actor", actor)
	writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "enabled": *req.Enabled})
}

// ResetConversation handles POST /admin/conversations/{identity}/reset.
func (h *AdminHandler) ResetConversation(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(chi.URLParam(r, "identity"))
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity required")
		return
	}
	sess, err := h.sessions.Reset(r.Context(), identity)
	if err != nil {
		h.logger.Error("admin reset failed", "error", err, "identity", identity)
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "stage": sess.Stage})
}

// SessionStats handles GET /admin/sessions/stats.
func (h *AdminHandler) SessionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Stats(r.Context()))
}

type budgetResponse struct {
	Usage  budget.Snapshot `json:"usage"`
	Limits budgetLimits    `json:"limits"`
}

type budgetLimits struct {
	HourlyTokens   int `json:"hourly_tokens"`
	HourlyRequests int `json:"hourly_requests"`
	DailyTokens    int `json:"daily_tokens"`
	DailyRequests  int `json:"daily_requests"`
}

// Budget handles GET /admin/budget.
func (h *AdminHandler) Budget(w http.ResponseWriter, r *http.Request) {
	if h.budget == nil {
		writeError(w, http.StatusNotFound, "budget not configured")
		return
	}
	limits := h.budget.Limits()
	writeJSON(w, http.StatusOK, budgetResponse{
		Usage:  h.budget.Snapshot(),
		Limits: budgetLimits(limits),
	})
}

// Messages handles GET /admin/conversations/{identity}/messages?limit=N.
func (h *AdminHandler) Messages(w http.ResponseWriter, r *http.Request) {
	if h.messages == nil {
		writeError(w, http.StatusNotFound, "message log not configured")
		return
	}
	identity := strings.TrimSpace(chi.URLParam(r, "identity"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.messages.Recent(r.Context(), identity, limit)
	if err != nil {
		h.logger.Error("failed to load messages", "error", err, "identity", identity)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []messagelog.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "messages": msgs})
}

// PutTenant handles PUT /admin/tenants/{key}.
func (h *AdminHandler) PutTenant(w http.ResponseWriter, r *http.Request) {
	if h.tenants == nil {
		writeError(w, http.StatusNotFound, "tenant store not configured")
		return
	}
	var cfg tenant.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant config")
		return
	}
	cfg.Key = strings.TrimSpace(chi.URLParam(r, "key"))
	if cfg.Key == "" || strings.TrimSpace(cfg.Name) == "" {
		writeError(w, http.StatusBadRequest, "key and name required")
		return
	}
	if err := h.tenants.Set(r.Context(), &cfg); err != nil {
		h.logger.Error("failed to save tenant", "error", err, "tenant", cfg.Key)
		writeError(w, http.StatusInternalServerError, "failed to save tenant")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
