package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

var errTest = errors.New("database exploded")

func TestError_Response(t *testing.T) {
	oe := ErrServerError("sql: connection refused")

	if got := oe.Response(false).ErrorDescription; got != genericServerErrorDescription {
		t.Errorf("production description = %q, want generic", got)
	}
	if got := oe.Response(true).ErrorDescription; got != "sql: connection refused" {
		t.Errorf("development description = %q", got)
	}

	client := ErrInvalidScope("scope too broad")
	if got := client.Response(false).ErrorDescription; got != "scope too broad" {
		t.Errorf("non-server description = %q", got)
	}
}

func TestError_WithersCopy(t *testing.T) {
	base := ErrInvalidClient("client authentication failed")
	withHeader := base.WithHeader("WWW-Authenticate", `Basic realm="oauth"`)
	withState := withHeader.WithState("abc")
	withCause := withState.WithCause(errTest)

	if base.Header != nil || base.State != "" || base.Unwrap() != nil {
		t.Error("withers must not modify the receiver")
	}
	if withState.Header.Get("WWW-Authenticate") == "" {
		t.Error("header lost")
	}
	if withCause.State != "abc" {
		t.Errorf("State = %q", withCause.State)
	}
	if !errors.Is(withCause, errTest) {
		t.Error("cause should be reachable through errors.Is")
	}

	withCause.Header.Set("X-Test", "1")
	if withState.Header.Get("X-Test") != "" {
		t.Error("headers must be cloned")
	}
}

func TestError_Values(t *testing.T) {
	v := ErrAccessDenied("denied").WithState("s1").WithURI("https://docs.example.com/errors").Values(false)

	want := map[string]string{
		"error":             ErrorCodeAccessDenied,
		"error_description": "denied",
		"error_uri":         "https://docs.example.com/errors",
		"state":             "s1",
	}
	for k, val := range want {
		if v.Get(k) != val {
			t.Errorf("%s = %q, want %q", k, v.Get(k), val)
		}
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}

	oe := ErrInvalidGrant("bad code")
	if got := AsError(fmt.Errorf("wrapped: %w", oe)); got != oe {
		t.Errorf("AsError() = %v, want the wrapped *Error", got)
	}

	got := AsError(errTest)
	if got.Code != ErrorCodeServerError || got.Status != http.StatusInternalServerError {
		t.Errorf("AsError(plain) = %+v, want server_error 500", got)
	}
	if !errors.Is(got, errTest) {
		t.Error("plain error should be kept as the cause")
	}
	if !IsServerError(got) || IsServerError(oe) {
		t.Error("IsServerError() mismatch")
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		err    *Error
		code   string
		status int
	}{
		{ErrInvalidRequest(""), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{ErrInvalidClient(""), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{ErrInvalidGrant(""), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{ErrUnauthorizedClient(""), ErrorCodeUnauthorizedClient, http.StatusBadRequest},
		{ErrAccessDenied(""), ErrorCodeAccessDenied, http.StatusBadRequest},
		{ErrUnsupportedResponseType(""), ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{ErrInvalidScope(""), ErrorCodeInvalidScope, http.StatusBadRequest},
		{ErrInvalidTarget(""), ErrorCodeInvalidTarget, http.StatusBadRequest},
		{ErrServerError(""), ErrorCodeServerError, http.StatusInternalServerError},
		{ErrTemporarilyUnavailable(""), ErrorCodeTemporarilyUnavailable, http.StatusServiceUnavailable},
		{ErrUnsupportedGrantType(""), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{ErrUnsupportedTokenType(""), ErrorCodeUnsupportedTokenType, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code || tt.err.Status != tt.status {
				t.Errorf("got %s/%d, want %s/%d", tt.err.Code, tt.err.Status, tt.code, tt.status)
			}
		})
	}
}
