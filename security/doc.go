// Package security provides the security plumbing around the authorization
// server engine: audit logging with hashed user identifiers, throttling of
// security event logs, response security headers, client IP extraction,
// request IDs, clock-skew aware expiry checks and AES-GCM encryption of
// records at rest.
//
// Audit events are written through log/slog:
//
//	auditor := security.NewAuditor(logger, true)
//	auditor.LogTokenIssued("user-1", "client-1", "203.0.113.7", "read", "authorization_code")
//
// Security event logging can be throttled per identifier so that a client
// replaying codes cannot flood the logs:
//
//	limiter := security.NewRateLimiter(1, 10, logger)
//	defer limiter.Stop()
//	if limiter.Allow(clientID) {
//	    logger.Warn("authorization code reuse detected", "client_id", clientID)
//	}
package security
