// Package oauth adapts the authorization server engine in package server to
// net/http. It converts requests into server.Request values, writes
// server.Response values back, and adds the transport concerns the engine
// leaves out: security headers, CORS, request IDs, per-IP rate limiting,
// HTTP metrics and bearer token validation for protected resources.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/server"
)

// Endpoint names used in logs, spans and metrics
const (
	endpointAuthorization = "authorization"
	endpointToken         = "token"
	endpointRevocation    = "revocation"
	endpointIntrospection = "introspection"
	endpointMetadata      = "metadata"
	endpointErrorPage     = "error_page"
)

// Handler serves the authorization server over HTTP
type Handler struct {
	server      *server.Server
	config      *Config
	logger      *slog.Logger
	tracer      trace.Tracer
	rateLimiter *security.RateLimiter
}

// NewHandler creates a new HTTP handler for srv. A nil config uses defaults.
func NewHandler(srv *server.Server, config *Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		config: applyHandlerDefaults(config),
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}
	return h
}

// SetRateLimiter enables per-IP rate limiting of the token, revocation and
// introspection endpoints.
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	h.rateLimiter = rl
}

// Server returns the wrapped engine
func (h *Handler) Server() *server.Server {
	return h.server
}

// engineFunc is one of the server.Server endpoint entry points
type engineFunc func(ctx context.Context, req *server.Request) *server.Response

// ServeAuthorization handles the authorization endpoint (RFC 6749 section
// 3.1). GET and POST are both accepted. The resource owner comes from the
// configured UserResolver.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, endpointAuthorization, []string{http.MethodGet, http.MethodPost}, false,
		func(ctx context.Context, req *server.Request) *server.Response {
			user, err := h.config.UserResolver(w, r.WithContext(ctx))
			if err != nil {
				if errors.Is(err, ErrLoginRequired) {
					return nil
				}
				h.logger.Error("Failed to resolve resource owner", "error", err)
				return errorResponse(server.ErrServerError("failed to resolve resource owner").WithCause(err),
					h.server.Config.DevelopmentMode)
			}
			req.User = user
			return h.server.HandleAuthorizationRequest(ctx, req)
		})
}

// ServeToken handles the token endpoint (RFC 6749 section 3.2)
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, endpointToken, []string{http.MethodPost}, true, h.server.HandleTokenRequest)
}

// ServeTokenRevocation handles the revocation endpoint (RFC 7009)
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, endpointRevocation, []string{http.MethodPost}, true, h.server.HandleRevocationRequest)
}

// ServeTokenIntrospection handles the introspection endpoint (RFC 7662)
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, endpointIntrospection, []string{http.MethodPost}, true, h.server.HandleIntrospectionRequest)
}

// ServeAuthorizationServerMetadata serves the RFC 8414 metadata document
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.metadata")
	defer span.End()

	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		h.recordHTTPMetrics(ctx, endpointMetadata, r.Method, http.StatusMethodNotAllowed, startTime)
		return
	}

	h.setCORSHeaders(w, r)
	security.SetSecurityHeaders(w.Header(), h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.server.Metadata()); err != nil {
		h.logger.Error("Failed to encode metadata", "error", err)
	}

	instrumentation.AddHTTPAttributes(span, r.Method, endpointMetadata, http.StatusOK)
	h.recordHTTPMetrics(ctx, endpointMetadata, r.Method, http.StatusOK, startTime)
}

// serve runs the shared request pipeline: method check, preflight, rate
// limiting, form parsing, the engine call and response writing.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, endpoint string, methods []string, limited bool, handle engineFunc) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http."+endpoint)
	defer span.End()
	r = r.WithContext(ctx)

	status := h.serveRequest(w, r, endpoint, methods, limited, handle)

	instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
	if h.server.Instrumentation != nil && h.server.Instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, h.clientIP(r))
	}
	h.recordHTTPMetrics(ctx, endpoint, r.Method, status, startTime)
}

func (h *Handler) serveRequest(w http.ResponseWriter, r *http.Request, endpoint string, methods []string, limited bool, handle engineFunc) int {
	if r.Method == http.MethodOptions && endpoint != endpointAuthorization {
		h.ServePreflightRequest(w, r)
		return http.StatusNoContent
	}
	if !slices.Contains(methods, r.Method) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed
	}

	clientIP := h.clientIP(r)
	if limited && h.checkIPRateLimit(w, r, endpoint, clientIP) {
		return http.StatusTooManyRequests
	}

	if endpoint != endpointAuthorization {
		h.setCORSHeaders(w, r)
	}

	req, err := h.newRequest(w, r, clientIP)
	if err != nil {
		h.logger.Debug("Malformed request body",
			"endpoint", endpoint,
			"request_id", security.GetRequestID(r.Context()),
			"error", err)
		security.SetSecurityHeaders(w.Header(), h.server.Config.Issuer)
		h.writeError(w, ErrorCodeInvalidRequest, "Malformed request body", http.StatusBadRequest)
		return http.StatusBadRequest
	}

	resp := handle(r.Context(), req)
	if resp == nil {
		// The user resolver has already answered.
		return http.StatusOK
	}
	h.writeResponse(w, resp)

	if resp.Status >= http.StatusInternalServerError {
		h.logger.Warn("Request failed",
			"endpoint", endpoint,
			"status", resp.Status,
			"request_id", security.GetRequestID(r.Context()))
	}
	return resp.Status
}

// newRequest converts r into the engine's request type. Bodies are only read
// for POST and are limited to Config.MaxFormBytes.
func (h *Handler) newRequest(w http.ResponseWriter, r *http.Request, clientIP string) (*server.Request, error) {
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxFormBytes)
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse form: %w", err)
		}
	}

	return &server.Request{
		Method:   r.Method,
		Header:   r.Header,
		Query:    r.URL.Query(),
		Form:     r.PostForm,
		ClientIP: clientIP,
	}, nil
}

// writeResponse copies an engine response to w and adds security headers
func (h *Handler) writeResponse(w http.ResponseWriter, resp *server.Response) {
	header := w.Header()
	for k, v := range resp.Header {
		header[k] = v
	}
	security.SetSecurityHeaders(header, h.server.Config.Issuer)
	if len(resp.Body) > 0 {
		header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			h.logger.Debug("Failed to write response body", "error", err)
		}
	}
}

// errorResponse renders an engine error the same way the engine does for
// its JSON endpoints.
func errorResponse(oe *server.Error, devMode bool) *server.Response {
	resp := server.NewJSONResponse(oe.Status, oe.Response(devMode))
	for k, v := range oe.Header {
		resp.Header[k] = v
	}
	security.SetNoStore(resp.Header)
	return resp
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, endpoint, clientIP string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.metrics().RecordRateLimitExceeded(r.Context(), "ip")
	h.server.Auditor.LogEvent(security.Event{
		Type:      security.EventRateLimitExceeded,
		IPAddress: clientIP,
		Details:   map[string]any{"endpoint": endpoint},
	})

	security.SetSecurityHeaders(w.Header(), h.server.Config.Issuer)
	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// setCORSHeaders sets CORS headers if configured and the origin is allowed.
func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(h.config.CORS.AllowedOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	if !h.isAllowedOrigin(origin) {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin)
		return
	}

	// Echo the origin rather than "*" so credentials can be allowed
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")

	if h.config.CORS.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Max-Age", strconv.Itoa(h.config.CORS.MaxAge))
}

// isAllowedOrigin checks if the given origin is in the allowed origins list.
func (h *Handler) isAllowedOrigin(origin string) bool {
	for _, allowed := range h.config.CORS.AllowedOrigins {
		if allowed == "*" {
			h.logger.Warn("CORS: Wildcard origin (*) allows ALL origins",
				"recommendation", "Use specific origins in production")
			return true
		}

		// Origins compare case-sensitively
		if allowed == origin {
			return true
		}
	}

	return false
}

// ServePreflightRequest handles CORS preflight (OPTIONS) requests.
func (h *Handler) ServePreflightRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodOptions {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) metrics() *instrumentation.Metrics {
	if h.server.Instrumentation == nil {
		return nil
	}
	return h.server.Instrumentation.Metrics()
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	h.metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
