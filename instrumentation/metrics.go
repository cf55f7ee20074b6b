package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Protocol Metrics
	AuthorizationRequests metric.Int64Counter
	TokensIssued          metric.Int64Counter
	CodeExchanged         metric.Int64Counter
	TokenRefreshed        metric.Int64Counter
	TokenRevoked          metric.Int64Counter
	TokenIntrospected     metric.Int64Counter
	OAuthErrors           metric.Int64Counter

	// Security Metrics
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	TokenReuseDetected   metric.Int64Counter
	ClientAuthFailed     metric.Int64Counter
	AssertionRejected    metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter
	TokenFamiliesRevoked metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageCodesCount         metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter
}

type counterSpec struct {
	target *metric.Int64Counter
	meter  string
	name   string
	desc   string
	unit   string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, "http", "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.AuthorizationRequests, "server", "oauth.authorization.requests", "Number of authorization requests by response type and result", "{request}"},
		{&m.TokensIssued, "server", "oauth.tokens.issued", "Number of access tokens issued by grant type", "{token}"},
		{&m.CodeExchanged, "server", "oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"},
		{&m.TokenRefreshed, "server", "oauth.token.refreshed", "Number of refresh token rotations", "{refresh}"},
		{&m.TokenRevoked, "server", "oauth.token.revoked", "Number of tokens revoked through the revocation endpoint", "{revocation}"},
		{&m.TokenIntrospected, "server", "oauth.token.introspected", "Number of introspection requests by result", "{request}"},
		{&m.OAuthErrors, "server", "oauth.errors", "Number of OAuth error responses by error code", "{error}"},
		{&m.PKCEValidationFailed, "security", "oauth.pkce.validation_failed", "Number of PKCE verification failures", "{failure}"},
		{&m.CodeReuseDetected, "security", "oauth.code.reuse_detected", "Number of authorization code replays", "{event}"},
		{&m.TokenReuseDetected, "security", "oauth.token.reuse_detected", "Number of refresh token replays", "{event}"},
		{&m.ClientAuthFailed, "security", "oauth.client.auth_failed", "Number of failed client authentications by method", "{failure}"},
		{&m.AssertionRejected, "security", "oauth.assertion.rejected", "Number of rejected JWT assertions", "{assertion}"},
		{&m.RateLimitExceeded, "security", "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.TokenFamiliesRevoked, "security", "oauth.token_family.revoked", "Number of tokens revoked through family revocation", "{token}"},
		{&m.StorageOperationTotal, "storage", "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.AuditEventsTotal, "security", "oauth.audit.events.total", "Total number of audit events", "{event}"},
	}
	for _, c := range counters {
		counter, err := inst.Meter(c.meter).Int64Counter(
			c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	var err error
	m.HTTPRequestDuration, err = inst.Meter("http").Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = inst.Meter("storage").Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageCodesCount, err = inst.Meter("storage").Int64ObservableGauge(
		"storage.codes.count",
		metric.WithDescription("Number of authorization codes held in storage"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageAccessTokensCount, err = inst.Meter("storage").Int64ObservableGauge(
		"storage.access_tokens.count",
		metric.WithDescription("Number of access tokens held in storage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.access_tokens.count gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = inst.Meter("storage").Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Number of refresh tokens held in storage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	return m, nil
}

// Every Record method is nil-safe so callers never have to check whether
// instrumentation is configured.

// RecordHTTPRequest records an HTTP request with its outcome and duration
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordAuthorizationRequest records an authorization request. result is
// "issued", "denied" or "error".
func (m *Metrics) RecordAuthorizationRequest(ctx context.Context, responseType, result string) {
	if m == nil {
		return
	}
	m.AuthorizationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrResponseType, responseType),
		attribute.String("result", result),
	))
}

// RecordTokenIssued records an issued access token
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string, withRefresh bool) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
		attribute.Bool("refresh_token", withRefresh),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, pkceMethod string) {
	if m == nil {
		return
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPKCEMethod, pkceMethod),
	))
}

// RecordTokenRefresh records a refresh token rotation
func (m *Metrics) RecordTokenRefresh(ctx context.Context) {
	if m == nil {
		return
	}
	m.TokenRefreshed.Add(ctx, 1)
}

// RecordTokenRevocation records a revocation endpoint call
func (m *Metrics) RecordTokenRevocation(ctx context.Context, tokenType string) {
	if m == nil {
		return
	}
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTokenType, tokenType),
	))
}

// RecordTokenIntrospection records an introspection request
func (m *Metrics) RecordTokenIntrospection(ctx context.Context, active bool) {
	if m == nil {
		return
	}
	m.TokenIntrospected.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("active", active),
	))
}

// RecordOAuthError records an OAuth error response
func (m *Metrics) RecordOAuthError(ctx context.Context, endpoint, errorCode string) {
	if m == nil {
		return
	}
	m.OAuthErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.String(AttrError, errorCode),
	))
}

// RecordPKCEValidationFailed records a failed PKCE verification
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPKCEMethod, method),
	))
}

// RecordCodeReuse records a replayed authorization code
func (m *Metrics) RecordCodeReuse(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordTokenReuse records a replayed refresh token
func (m *Metrics) RecordTokenReuse(ctx context.Context) {
	if m == nil {
		return
	}
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordClientAuthFailure records a failed client authentication
func (m *Metrics) RecordClientAuthFailure(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.ClientAuthFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientAuthMethod, method),
	))
}

// RecordAssertionRejected records a rejected JWT assertion
func (m *Metrics) RecordAssertionRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.AssertionRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRateLimiterType, limiterType),
	))
}

// RecordTokenFamilyRevoked records how many tokens a family revocation removed
func (m *Metrics) RecordTokenFamilyRevoked(ctx context.Context, reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.TokenFamiliesRevoked.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuditEventType, eventType),
	))
}
