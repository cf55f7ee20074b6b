package security

// Audit event types
const (
	// Token lifecycle
	EventTokenIssued         = "token_issued"
	EventTokenRefreshed      = "token_refreshed"
	EventTokenRevoked        = "token_revoked"
	EventTokenFamilyRevoked  = "token_family_revoked"
	EventTokenIntrospected   = "token_introspected"
	EventAccessTokenRotated  = "access_token_revoked_on_refresh" //nolint:gosec // event name, not a credential
	EventAuthorizationIssued = "authorization_issued"

	// Authentication and authorization failures
	EventAuthFailure             = "auth_failure"
	EventClientAuthFailure       = "client_auth_failure"
	EventAuthorizationDenied     = "authorization_denied"
	EventInvalidRedirect         = "invalid_redirect"
	EventScopeEscalationAttempt  = "scope_escalation_attempt"
	EventResourceMismatch        = "resource_mismatch"
	EventPKCEValidationFailed    = "pkce_validation_failed"
	EventAssertionRejected       = "assertion_rejected"
	EventAssertionReplayDetected = "assertion_replay_detected"

	// Replay detection
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"
	EventRefreshTokenReuseDetected      = "refresh_token_reuse_detected" //nolint:gosec // event name, not a credential

	// HTTP layer
	EventRateLimitExceeded  = "rate_limit_exceeded"
	EventInvalidBearerToken = "invalid_bearer_token" //nolint:gosec // event name, not a credential
)
