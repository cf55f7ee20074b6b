package server

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidTarget           = "invalid_target"
	ErrorCodeServerError             = "server_error"
	ErrorCodeTemporarilyUnavailable  = "temporarily_unavailable"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedTokenType    = "unsupported_token_type"
)

// genericServerErrorDescription replaces server_error descriptions outside
// development mode.
const genericServerErrorDescription = "The authorization server encountered an unexpected condition"

// Error is an OAuth 2.0 protocol error. It carries everything needed to
// render the error as a redirect or as a JSON body.
type Error struct {
	Code        string      // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string      // Human-readable error description
	URI         string      // Optional error_uri
	State       string      // Authorization endpoint errors only
	Status      int         // HTTP status code
	Header      http.Header // Extra response headers (e.g. WWW-Authenticate)

	cause error
}

// NewError creates a new OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the internal cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) clone() *Error {
	c := *e
	if e.Header != nil {
		c.Header = e.Header.Clone()
	}
	return &c
}

// WithState returns a copy of e carrying the authorization request's state.
func (e *Error) WithState(state string) *Error {
	c := e.clone()
	c.State = state
	return c
}

// WithCause returns a copy of e wrapping an internal error. The cause is
// logged but never written to the wire.
func (e *Error) WithCause(err error) *Error {
	c := e.clone()
	c.cause = err
	return c
}

// WithHeader returns a copy of e with an extra response header.
func (e *Error) WithHeader(key, value string) *Error {
	c := e.clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	c.Header.Set(key, value)
	return c
}

// WithURI returns a copy of e with error_uri set.
func (e *Error) WithURI(uri string) *Error {
	c := e.clone()
	c.URI = uri
	return c
}

// ErrorResponse is the JSON body of an error.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	State            string `json:"state,omitempty"`
}

// Response returns the wire representation of e. Unless devMode is set the
// description of server_error is replaced with a generic message.
func (e *Error) Response(devMode bool) ErrorResponse {
	desc := e.Description
	if e.Code == ErrorCodeServerError && !devMode {
		desc = genericServerErrorDescription
	}
	return ErrorResponse{
		Error:            e.Code,
		ErrorDescription: desc,
		ErrorURI:         e.URI,
		State:            e.State,
	}
}

// Values encodes e as authorization response parameters.
func (e *Error) Values(devMode bool) url.Values {
	resp := e.Response(devMode)
	v := url.Values{}
	v.Set("error", resp.Error)
	if resp.ErrorDescription != "" {
		v.Set("error_description", resp.ErrorDescription)
	}
	if resp.ErrorURI != "" {
		v.Set("error_uri", resp.ErrorURI)
	}
	if resp.State != "" {
		v.Set("state", resp.State)
	}
	return v
}

// AsError converts any error into an OAuth error. Errors that are not
// already *Error become server_error wrapping the original.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return ErrServerError("internal error").WithCause(err)
}

// Common OAuth errors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidGrant indicates the authorization code, refresh token or assertion is invalid
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrUnauthorizedClient indicates the client may not use the grant or response type
	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrAccessDenied indicates the resource owner or server denied the request
	ErrAccessDenied = func(desc string) *Error {
		return NewError(ErrorCodeAccessDenied, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates no grant handles the response type
	ErrUnsupportedResponseType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrInvalidScope indicates the requested scope is invalid or exceeds what was granted
	ErrInvalidScope = func(desc string) *Error {
		return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrInvalidTarget indicates an RFC 8707 resource parameter is invalid
	ErrInvalidTarget = func(desc string) *Error {
		return NewError(ErrorCodeInvalidTarget, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrTemporarilyUnavailable indicates the server cannot handle the request right now
	ErrTemporarilyUnavailable = func(desc string) *Error {
		return NewError(ErrorCodeTemporarilyUnavailable, desc, http.StatusServiceUnavailable)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedTokenType indicates revocation of this token type is not supported
	ErrUnsupportedTokenType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedTokenType, desc, http.StatusBadRequest)
	}
)

// mergeHeaders copies extra error headers into dst.
func mergeHeaders(dst, src http.Header) {
	maps.Copy(dst, src)
}

// IsServerError reports whether err is an OAuth server_error.
func IsServerError(err error) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == ErrorCodeServerError
}

// asProtocolError returns err as *Error when it already is one, nil otherwise.
func asProtocolError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return nil
}
