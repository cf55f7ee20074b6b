package oauth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/giantswarm/oauth2-core/server"
)

// OAuth error codes, re-exported for callers that only import this package
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeUnauthorizedClient      = server.ErrorCodeUnauthorizedClient
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeInvalidTarget           = server.ErrorCodeInvalidTarget
	ErrorCodeServerError             = server.ErrorCodeServerError
	ErrorCodeTemporarilyUnavailable  = server.ErrorCodeTemporarilyUnavailable
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedTokenType    = server.ErrorCodeUnsupportedTokenType

	// RFC 6750 bearer token errors used by ValidateToken
	ErrorCodeInvalidToken      = "invalid_token"
	ErrorCodeInsufficientScope = "insufficient_scope"

	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// ErrLoginRequired can be returned by a UserResolver that already answered
// the request itself (for example with a login page).
var ErrLoginRequired = errors.New("login required")

// writeError writes an OAuth error as JSON
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	body := server.ErrorResponse{Error: code, ErrorDescription: description}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}

// writeProtocolError writes an engine error, honoring its status and headers.
func (h *Handler) writeProtocolError(w http.ResponseWriter, oe *server.Error) {
	for k, v := range oe.Header {
		w.Header()[k] = v
	}
	resp := oe.Response(h.server.Config.DevelopmentMode)
	h.writeError(w, resp.Error, resp.ErrorDescription, oe.Status)
}
