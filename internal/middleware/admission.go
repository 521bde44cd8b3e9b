package middleware

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/chartgate/chartgate/internal/metrics"
	"github.com/chartgate/chartgate/internal/ratelimit"
	"github.com/chartgate/chartgate/pkg/logger"
)

const (
	// HeaderSuperAccess marks responses served under operator privilege.
	HeaderSuperAccess = "X-Super-Access"
)

// Admitter decides whether a client may reach the protected resource.
type Admitter interface {
	Admit(id string) ratelimit.Decision
}

// DecisionRecorder receives admission outcomes for offline analytics.
type DecisionRecorder interface {
	RecordDecision(outcome string)
}

// RateLimitResponse is the JSON response for rate limited requests.
type RateLimitResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Remaining  int    `json:"remaining"`
	RetryAfter int    `json:"retry_after,omitempty"`
	ResetAt    string `json:"reset_at,omitempty"`
}

// Admission returns a middleware that runs every unprivileged request through
// the admission gate. Privileged requests bypass the gate and are not counted.
// recorder may be nil.
func Admission(gate Admitter, log *logger.Logger, recorder DecisionRecorder) Middleware {
	if log == nil {
		log = logger.Nop()
	}
	record := func(outcome string) {
		metrics.RecordDecision(outcome)
		if recorder != nil {
			recorder.RecordDecision(outcome)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPrivileged(r.Context()) {
				record(metrics.OutcomePrivileged)
				w.Header().Set(HeaderSuperAccess, "true")
				next.ServeHTTP(w, r)
				return
			}

			clientIP := GetClientIP(r.Context())
			if clientIP == "" {
				clientIP = unknownClientIP
			}

			d := gate.Admit(clientIP)

			switch d.Reason {
			case ratelimit.ReasonDailyLimit:
				record(metrics.OutcomeDeniedDaily)
				log.Info("request denied, daily limit reached",
					"client_ip", clientIP,
					"request_id", GetRequestID(r.Context()),
					"total", d.Global.Total,
					"limit", d.Global.Limit,
				)
				writeDailyLimitResponse(w, d)
				return

			case ratelimit.ReasonClientLimit:
				record(metrics.OutcomeDeniedClient)
				log.Info("request denied, client limit reached",
					"client_ip", clientIP,
					"request_id", GetRequestID(r.Context()),
					"retry_after", d.Client.RetryAfter,
				)
				writeClientLimitResponse(w, d)
				return
			}

			record(metrics.OutcomeAdmitted)
			metrics.SetDailyAdmitted(d.Global.Total)

			h := w.Header()
			h.Set("X-RateLimit-Limit-IP", strconv.Itoa(d.Client.Limit))
			h.Set("X-RateLimit-Remaining-IP", strconv.Itoa(d.Client.Remaining))
			h.Set("X-RateLimit-Limit-Global", strconv.Itoa(d.Global.Limit))
			h.Set("X-RateLimit-Remaining-Global", strconv.Itoa(d.Global.Remaining))

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// writeDailyLimitResponse writes the 429 response for an exhausted daily quota.
func writeDailyLimitResponse(w http.ResponseWriter, d ratelimit.Decision) {
	resetAt := d.DailyResetAt.UTC().Format(time.RFC3339)

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Global.Limit))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", resetAt)

	writeRateLimitResponse(w, RateLimitResponse{
		Error:     "daily limit exceeded",
		Code:      "DAILY_LIMIT_EXCEEDED",
		Message:   fmt.Sprintf("The service reached its limit of %d requests per day. Please try again tomorrow.", d.Global.Limit),
		Remaining: 0,
		ResetAt:   resetAt,
	})
}

// writeClientLimitResponse writes the 429 response for an exhausted client window.
func writeClientLimitResponse(w http.ResponseWriter, d ratelimit.Decision) {
	resetAt := d.Client.ResetAt.UTC().Format(time.RFC3339)
	retrySeconds := retryAfterSeconds(d.Client.RetryAfter)

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Client.Limit))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", resetAt)
	h.Set("Retry-After", strconv.Itoa(retrySeconds))

	writeRateLimitResponse(w, RateLimitResponse{
		Error:      "rate limit exceeded",
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    fmt.Sprintf("You exceeded the limit of %d requests per window. Please try again in %d seconds.", d.Client.Limit, retrySeconds),
		Remaining:  0,
		RetryAfter: retrySeconds,
		ResetAt:    resetAt,
	})
}

// writeRateLimitResponse writes the 429 response.
func writeRateLimitResponse(w http.ResponseWriter, resp RateLimitResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(resp)
}
