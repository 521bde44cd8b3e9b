package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/chartgate/chartgate/internal/audit"
	"github.com/chartgate/chartgate/internal/clock"
	"github.com/chartgate/chartgate/internal/metrics"
	"github.com/chartgate/chartgate/internal/middleware"
	"github.com/chartgate/chartgate/internal/privilege"
	"github.com/chartgate/chartgate/internal/ratelimit"
	"github.com/chartgate/chartgate/pkg/logger"
)

// maxAuthBody bounds the login request body.
const maxAuthBody = 4 << 10

// Login results used as metric labels.
const (
	loginSuccess   = "success"
	loginFailure   = "failure"
	loginThrottled = "throttled"
)

// AdmissionState is the part of the admission gate the admin surface uses.
type AdmissionState interface {
	RolloverIfNewDay() bool
	Stats(id string) ratelimit.Stats
	ResetAll()
}

// DecisionHistory reads back shipped decision counts for a day.
type DecisionHistory interface {
	DailyCounts(ctx context.Context, day string) (map[string]int64, error)
}

// AuthRequest is the body of POST /api/admin/auth.
type AuthRequest struct {
	Password string `json:"password"`
}

// AdminResponse is the generic admin action response.
type AdminResponse struct {
	Success   bool    `json:"success"`
	Message   string  `json:"message,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// StatusResponse is the body of GET /api/admin/status.
type StatusResponse struct {
	ratelimit.Stats
	HasSuperAccess bool             `json:"has_super_access"`
	Decisions      map[string]int64 `json:"decisions,omitempty"`
}

// CookieConfig controls the capability cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	guard    *privilege.Guard
	throttle *privilege.Throttle
	gate     AdmissionState
	audit    audit.Recorder
	history  DecisionHistory
	cookie   CookieConfig
	log      *logger.Logger
	clock    clock.Clock
}

// AdminOption configures an AdminHandler.
type AdminOption func(*AdminHandler)

// WithDecisionHistory includes shipped decision counts in status responses.
func WithDecisionHistory(h DecisionHistory) AdminOption {
	return func(a *AdminHandler) { a.history = h }
}

// WithAdminClock sets the time source for audit timestamps.
func WithAdminClock(c clock.Clock) AdminOption {
	return func(a *AdminHandler) { a.clock = c }
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	guard *privilege.Guard,
	throttle *privilege.Throttle,
	gate AdmissionState,
	recorder audit.Recorder,
	cookie CookieConfig,
	log *logger.Logger,
	opts ...AdminOption,
) *AdminHandler {
	h := &AdminHandler{
		guard:    guard,
		throttle: throttle,
		gate:     gate,
		audit:    recorder,
		cookie:   cookie,
		log:      log,
		clock:    clock.SystemClock{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Auth handles POST /api/admin/auth.
func (h *AdminHandler) Auth(w http.ResponseWriter, r *http.Request) {
	clientIP := middleware.GetClientIP(r.Context())

	if !h.throttle.Allow(clientIP) {
		metrics.RecordLogin(loginThrottled)
		h.record(r, audit.ActionLoginThrottled)
		WriteError(w, http.StatusTooManyRequests, "too many login attempts", "LOGIN_THROTTLED")
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAuthBody)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}

	if !h.guard.CheckSecret(req.Password) {
		metrics.RecordLogin(loginFailure)
		h.record(r, audit.ActionLoginFailed)
		if !h.guard.Enabled() {
			h.log.Warn("admin login attempted but no password is configured", "client_ip", clientIP)
		}
		WriteJSON(w, http.StatusUnauthorized, AdminResponse{
			Success: false,
			Message: "invalid password",
		})
		return
	}

	token, err := h.guard.Issue()
	if err != nil {
		h.log.Error("failed to issue capability token", "error", err.Error())
		WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token.Value,
		Path:     "/",
		Expires:  token.ExpiresAt,
		MaxAge:   int(h.guard.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})

	metrics.RecordLogin(loginSuccess)
	h.record(r, audit.ActionLogin)
	h.log.Info("operator logged in", "client_ip", clientIP)

	expires := token.ExpiresAt.UTC().Format(time.RFC3339)
	WriteJSON(w, http.StatusOK, AdminResponse{
		Success:   true,
		ExpiresAt: &expires,
	})
}

// Logout handles POST /api/admin/logout. The token itself stays valid until
// it expires; logout only removes it from the client.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})

	if middleware.IsPrivileged(r.Context()) {
		h.record(r, audit.ActionLogout)
	}

	WriteJSON(w, http.StatusOK, AdminResponse{Success: true})
}

// Reset handles POST /api/admin/reset.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if !middleware.IsPrivileged(r.Context()) {
		writeUnauthorized(w)
		return
	}

	h.gate.ResetAll()
	metrics.RecordReset()
	h.record(r, audit.ActionReset)
	h.log.Info("admission limits reset by operator",
		"client_ip", middleware.GetClientIP(r.Context()),
		"request_id", middleware.GetRequestID(r.Context()),
	)

	WriteJSON(w, http.StatusOK, AdminResponse{
		Success: true,
		Message: "limits reset",
	})
}

// Status handles GET /api/admin/status.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)

	if !middleware.IsPrivileged(r.Context()) {
		writeUnauthorized(w)
		return
	}

	h.gate.RolloverIfNewDay()
	stats := h.gate.Stats(middleware.GetClientIP(r.Context()))

	resp := StatusResponse{
		Stats:          stats,
		HasSuperAccess: true,
	}

	if h.history != nil {
		counts, err := h.history.DailyCounts(r.Context(), stats.Global.Day)
		if err != nil {
			h.log.Warn("failed to read decision history", "day", stats.Global.Day, "error", err.Error())
		} else {
			resp.Decisions = counts
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) record(r *http.Request, action audit.Action) {
	if h.audit == nil {
		return
	}
	h.audit.Record(r.Context(), audit.Event{
		Action:    action,
		ClientID:  middleware.GetClientIP(r.Context()),
		RequestID: middleware.GetRequestID(r.Context()),
		At:        h.clock.Now(),
	})
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func writeUnauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", "UNAUTHORIZED")
}
