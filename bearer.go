package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/server"
)

// ValidateToken is middleware for protected resources. It requires an RFC
// 6750 bearer token in the Authorization header, checks it against the
// engine's storage and stores the access token in the request context.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)

		if h.checkIPRateLimit(w, r, "protected_resource", clientIP) {
			return
		}

		value, ok := bearerToken(r)
		if !ok {
			// RFC 6750 section 3.1: no error code when credentials are absent
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", h.config.BearerRealm))
			h.writeError(w, ErrorCodeInvalidRequest, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		token, err := h.server.ValidateAccessToken(r.Context(), value)
		if err != nil {
			if !errors.Is(err, server.ErrInvalidAccessToken) {
				h.logger.Error("Failed to validate access token", "error", err)
				h.writeError(w, ErrorCodeServerError, "Token validation failed", http.StatusInternalServerError)
				return
			}

			h.logger.Debug("Rejected bearer token",
				"ip", clientIP,
				"token_prefix", util.SafeTruncate(value, 8))
			h.server.Auditor.LogEvent(security.Event{
				Type:      security.EventInvalidBearerToken,
				IPAddress: clientIP,
			})
			h.writeBearerError(w, http.StatusUnauthorized, ErrorCodeInvalidToken, "The access token is invalid or expired", "")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithAccessToken(r.Context(), token)))
	})
}

// RequireScopes returns middleware that answers 403 insufficient_scope unless
// the access token stored by ValidateToken carries every scope.
func (h *Handler) RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := AccessTokenFromContext(r.Context())
			if !ok {
				h.writeBearerError(w, http.StatusUnauthorized, ErrorCodeInvalidToken, "The access token is missing", "")
				return
			}

			if !util.IsSubset(scopes, token.Scopes) {
				h.logger.Debug("Insufficient scope",
					"client_id", token.ClientID,
					"required", scopes,
					"granted", token.Scopes)
				h.writeBearerError(w, http.StatusForbidden, ErrorCodeInsufficientScope,
					"The access token does not grant the required scope", util.JoinList(scopes))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeBearerError writes an RFC 6750 section 3 error with its WWW-Authenticate challenge.
func (h *Handler) writeBearerError(w http.ResponseWriter, status int, code, description, scope string) {
	challenge := fmt.Sprintf("Bearer realm=%q, error=%q, error_description=%q", h.config.BearerRealm, code, description)
	if scope != "" {
		challenge += fmt.Sprintf(", scope=%q", scope)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	h.writeError(w, code, description, status)
}

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// scheme is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
