package server

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/giantswarm/oauth2-core/internal/testutil"
)

func revocationRequest(token, hint string) *Request {
	form := url.Values{"token": {token}}
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	return tokenRequest(form)
}

func TestRevocation_AccessToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	tokens := exchangeCode(t, srv, "openid")

	resp := srv.HandleRevocationRequest(ctx, revocationRequest(tokens.AccessToken, TokenTypeHintAccessToken))
	if resp.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body %s)", resp.Status, resp.Body)
	}

	at, err := store.GetAccessToken(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if !at.Revoked {
		t.Error("access token should be revoked")
	}
	rt, err := store.GetRefreshToken(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if rt.Revoked {
		t.Error("revoking an access token must leave its refresh token alone")
	}
}

func TestRevocation_RefreshTokenRevokesAccessToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	tokens := exchangeCode(t, srv, "openid")

	// A wrong hint only changes the lookup order.
	resp := srv.HandleRevocationRequest(ctx, revocationRequest(tokens.RefreshToken, TokenTypeHintAccessToken))
	if resp.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}

	rt, err := store.GetRefreshToken(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if !rt.Revoked {
		t.Error("refresh token should be revoked")
	}
	at, err := store.GetAccessToken(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if !at.Revoked {
		t.Error("access token issued with the refresh token should be revoked")
	}

	expectError(t, srv.HandleTokenRequest(ctx, refreshRequest(tokens.RefreshToken, "")), http.StatusBadRequest, ErrorCodeInvalidGrant)
}

func TestRevocation_UnknownToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := srv.HandleRevocationRequest(context.Background(), revocationRequest("unknown", ""))
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
}

func TestRevocation_OtherClientsToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	tokens := exchangeCode(t, srv, "openid")

	req := publicTokenRequest(url.Values{"token": {tokens.AccessToken}})
	resp := srv.HandleRevocationRequest(ctx, req)
	if resp.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}

	at, err := store.GetAccessToken(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if at.Revoked {
		t.Error("a client must not revoke another client's token")
	}
}

func TestRevocation_Rejections(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	expectError(t, srv.HandleRevocationRequest(ctx, revocationRequest("", "")), http.StatusBadRequest, ErrorCodeInvalidRequest)
	expectError(t, srv.HandleRevocationRequest(ctx, revocationRequest("x", "id_token")), http.StatusBadRequest, ErrorCodeUnsupportedTokenType)

	req := revocationRequest("x", "")
	req.Header.Set("Authorization", basicAuth(testutil.TestClientID, "wrong"))
	expectError(t, srv.HandleRevocationRequest(ctx, req), http.StatusUnauthorized, ErrorCodeInvalidClient)

	req = revocationRequest("x", "")
	req.Method = http.MethodGet
	expectError(t, srv.HandleRevocationRequest(ctx, req), http.StatusBadRequest, ErrorCodeInvalidRequest)
}

// ============================================================
// Introspection
// ============================================================

func introspectionRequest(token, hint string) *Request {
	form := url.Values{"token": {token}}
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	return tokenRequest(form)
}

func TestIntrospection_ActiveAccessToken(t *testing.T) {
	srv, _ := newTestServer(t)
	tokens := exchangeCode(t, srv, "openid email")

	resp := srv.HandleIntrospectionRequest(context.Background(), introspectionRequest(tokens.AccessToken, ""))
	if resp.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}
	got := decodeJSON[IntrospectionResponse](t, resp)
	if !got.Active {
		t.Fatal("token should be active")
	}
	if got.Scope != "openid email" {
		t.Errorf("scope = %q", got.Scope)
	}
	if got.ClientID != testutil.TestClientID {
		t.Errorf("client_id = %q", got.ClientID)
	}
	if got.Subject != testutil.TestUserID {
		t.Errorf("sub = %q", got.Subject)
	}
	if got.TokenType != TokenTypeBearer {
		t.Errorf("token_type = %q", got.TokenType)
	}
	if got.Issuer != testIssuer {
		t.Errorf("iss = %q", got.Issuer)
	}
	if got.ExpiresAt <= got.IssuedAt {
		t.Errorf("exp %d should be after iat %d", got.ExpiresAt, got.IssuedAt)
	}
}

func TestIntrospection_RefreshToken(t *testing.T) {
	srv, _ := newTestServer(t)
	tokens := exchangeCode(t, srv, "openid")

	for _, hint := range []string{"", TokenTypeHintRefreshToken} {
		got := decodeJSON[IntrospectionResponse](t, srv.HandleIntrospectionRequest(context.Background(), introspectionRequest(tokens.RefreshToken, hint)))
		if !got.Active || got.TokenType != TokenTypeHintRefreshToken {
			t.Errorf("hint %q: got %+v, want active refresh_token", hint, got)
		}
	}

	// An access token with a refresh hint is still found.
	got := decodeJSON[IntrospectionResponse](t, srv.HandleIntrospectionRequest(context.Background(), introspectionRequest(tokens.AccessToken, TokenTypeHintRefreshToken)))
	if !got.Active || got.TokenType != TokenTypeBearer {
		t.Errorf("got %+v, want active Bearer", got)
	}
}

func TestIntrospection_Inactive(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	tokens := exchangeCode(t, srv, "openid")

	tests := []struct {
		name string
		req  func() *Request
	}{
		{name: "unknown token", req: func() *Request { return introspectionRequest("unknown", "") }},
		{name: "other client", req: func() *Request { return publicTokenRequest(url.Values{"token": {tokens.AccessToken}}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeJSON[IntrospectionResponse](t, srv.HandleIntrospectionRequest(ctx, tt.req()))
			if got.Active {
				t.Error("token should be inactive")
			}
			if got.ClientID != "" || got.Scope != "" {
				t.Errorf("inactive response leaks details: %+v", got)
			}
		})
	}

	srv.HandleRevocationRequest(ctx, revocationRequest(tokens.AccessToken, ""))
	got := decodeJSON[IntrospectionResponse](t, srv.HandleIntrospectionRequest(ctx, introspectionRequest(tokens.AccessToken, "")))
	if got.Active {
		t.Error("revoked token should be inactive")
	}
}

func TestIntrospection_RequiresClientAuthentication(t *testing.T) {
	srv, _ := newTestServer(t)

	req := &Request{Method: http.MethodPost, Header: make(http.Header), Form: url.Values{"token": {"x"}}}
	expectError(t, srv.HandleIntrospectionRequest(context.Background(), req), http.StatusUnauthorized, ErrorCodeInvalidClient)
}
