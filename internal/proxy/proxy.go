// Package proxy forwards admitted requests to the upstream inference API.
// The API key is injected here and never reaches the client; inbound
// credentials never reach the upstream.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/chartgate/chartgate/internal/config"
	"github.com/chartgate/chartgate/internal/handlers"
	"github.com/chartgate/chartgate/internal/metrics"
	"github.com/chartgate/chartgate/internal/middleware"
	"github.com/chartgate/chartgate/pkg/logger"
)

// maxRequestBody bounds the forwarded body. Chart images arrive base64 encoded.
const maxRequestBody = 20 << 20

// StatusResponse is the body of GET /api/openai.
type StatusResponse struct {
	Status    string `json:"status"`
	HasAPIKey bool   `json:"has_api_key"`
}

// Proxy is a reverse proxy to a single upstream endpoint.
type Proxy struct {
	target  *url.URL
	apiKey  string
	timeout time.Duration
	rp      *httputil.ReverseProxy
	log     *logger.Logger
}

// New creates a Proxy for cfg.URL.
func New(cfg config.UpstreamConfig, log *logger.Logger) (*Proxy, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream URL: unsupported scheme %q", target.Scheme)
	}
	if log == nil {
		log = logger.Nop()
	}

	p := &Proxy{
		target:  target,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		log:     log,
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
	}

	return p, nil
}

// HasAPIKey reports whether an upstream key is configured.
func (p *Proxy) HasAPIKey() bool {
	return p.apiKey != ""
}

// ServeHTTP forwards the request upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !p.HasAPIKey() {
		p.log.Error("upstream API key is not configured")
		handlers.WriteError(w, http.StatusInternalServerError, "server configuration incomplete", "UPSTREAM_NOT_CONFIGURED")
		return
	}

	// A declared length is rejected before dialing; chunked bodies are
	// cut off by MaxBytesReader and surface through handleError.
	if r.ContentLength > maxRequestBody {
		writeBodyTooLarge(w)
		return
	}

	if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	p.rp.ServeHTTP(w, r)
}

// Status handles GET /api/openai.
func (p *Proxy) Status(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:    "ok",
		HasAPIKey: p.HasAPIKey(),
	})
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	out := pr.Out
	out.URL.Scheme = p.target.Scheme
	out.URL.Host = p.target.Host
	out.URL.Path = p.target.Path
	out.URL.RawPath = p.target.RawPath
	out.URL.RawQuery = p.target.RawQuery
	out.Host = p.target.Host

	out.Header.Del("Cookie")
	out.Header.Del("Authorization")
	out.Header.Set("Authorization", "Bearer "+p.apiKey)
	if out.Header.Get("Content-Type") == "" {
		out.Header.Set("Content-Type", "application/json")
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	metrics.RecordUpstream(resp.StatusCode)
	resp.Header.Del("Set-Cookie")

	if resp.StatusCode >= http.StatusBadRequest {
		p.log.Warn("upstream returned error status",
			"status", resp.StatusCode,
			"request_id", middleware.GetRequestID(resp.Request.Context()),
		)
	}
	return nil
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeBodyTooLarge(w)
		return
	}

	status := http.StatusBadGateway
	code := "UPSTREAM_UNAVAILABLE"
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
		code = "UPSTREAM_TIMEOUT"
	}

	metrics.RecordUpstream(status)
	p.log.Warn("upstream request failed",
		"error", err.Error(),
		"request_id", middleware.GetRequestID(r.Context()),
	)

	handlers.WriteError(w, status, "upstream request failed", code)
}

func writeBodyTooLarge(w http.ResponseWriter) {
	handlers.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
}
