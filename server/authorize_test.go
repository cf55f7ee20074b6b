package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/oauth2-core/internal/testutil"
	"github.com/giantswarm/oauth2-core/storage"
)

func codeQuery() url.Values {
	challenge, _ := testutil.GeneratePKCEPair()
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {testutil.TestClientID},
		"redirect_uri":          {testutil.TestRedirectURI},
		"scope":                 {"openid email"},
		"state":                 {"state-123"},
		"code_challenge":        {challenge},
		"code_challenge_method": {PKCEMethodS256},
	}
}

func TestAuthorize_IssuesCode(t *testing.T) {
	srv, store := newTestServer(t)

	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(codeQuery(), testutil.GenerateTestUser()))
	u, params := redirectParams(t, resp, false)

	if got := u.Scheme + "://" + u.Host + u.Path; got != testutil.TestRedirectURI {
		t.Errorf("redirected to %q, want %q", got, testutil.TestRedirectURI)
	}
	if params.Get("state") != "state-123" {
		t.Errorf("state = %q, want state-123", params.Get("state"))
	}

	code, err := store.GetAuthorizationCode(context.Background(), params.Get("code"))
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if code.UserID != testutil.TestUserID {
		t.Errorf("UserID = %q, want %q", code.UserID, testutil.TestUserID)
	}
	if code.CodeChallengeMethod != PKCEMethodS256 {
		t.Errorf("CodeChallengeMethod = %q, want S256", code.CodeChallengeMethod)
	}
	if code.FamilyID == "" {
		t.Error("FamilyID should be set")
	}
	if !code.ExpiresAt.After(code.CreatedAt) {
		t.Error("ExpiresAt should be after CreatedAt")
	}
}

func TestAuthorize_DefaultsToPlainChallenge(t *testing.T) {
	srv, store := newTestServer(t)

	query := codeQuery()
	query.Del("code_challenge_method")
	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(query, testutil.GenerateTestUser()))
	_, params := redirectParams(t, resp, false)

	code, err := store.GetAuthorizationCode(context.Background(), params.Get("code"))
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if code.CodeChallengeMethod != PKCEMethodPlain {
		t.Errorf("CodeChallengeMethod = %q, want plain", code.CodeChallengeMethod)
	}
}

// Errors found before the redirect URI is trusted go to the error page.
func TestAuthorize_ErrorsBeforeRedirectValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(url.Values)
		code   string
	}{
		{name: "missing client_id", modify: func(q url.Values) { q.Del("client_id") }, code: ErrorCodeInvalidRequest},
		{name: "missing redirect_uri", modify: func(q url.Values) { q.Del("redirect_uri") }, code: ErrorCodeInvalidRequest},
		{name: "missing scope", modify: func(q url.Values) { q.Del("scope") }, code: ErrorCodeInvalidRequest},
		{name: "unknown client", modify: func(q url.Values) { q.Set("client_id", "nobody") }, code: ErrorCodeInvalidClient},
		{name: "unsupported response type", modify: func(q url.Values) { q.Set("response_type", "id_token") }, code: ErrorCodeUnsupportedResponseType},
		{name: "unregistered redirect uri", modify: func(q url.Values) { q.Set("redirect_uri", "https://evil.example.com/cb") }, code: ErrorCodeAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			query := codeQuery()
			tt.modify(query)

			resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(query, testutil.GenerateTestUser()))
			u, params := redirectParams(t, resp, false)

			if got := u.Scheme + "://" + u.Host + u.Path; got != srv.Config.ErrorPageURL {
				t.Errorf("redirected to %q, want error page %q", got, srv.Config.ErrorPageURL)
			}
			if params.Get("error") != tt.code {
				t.Errorf("error = %q, want %q", params.Get("error"), tt.code)
			}
			if params.Get("state") != "state-123" {
				t.Errorf("state = %q, want state-123", params.Get("state"))
			}
		})
	}
}

func TestAuthorize_UnauthorizedResponseType(t *testing.T) {
	srv, _ := newTestServer(t)

	query := codeQuery()
	query.Set("client_id", "test-public-client")
	query.Set("response_type", "token")
	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(query, testutil.GenerateTestUser()))
	_, params := redirectParams(t, resp, false)

	if params.Get("error") != ErrorCodeUnauthorizedClient {
		t.Errorf("error = %q, want unauthorized_client", params.Get("error"))
	}
}

// Errors found after the redirect URI is trusted go back to the client.
func TestAuthorize_ErrorsAfterRedirectValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(url.Values)
		user   *storage.User
		code   string
	}{
		{
			name:   "missing code_challenge",
			modify: func(q url.Values) { q.Del("code_challenge") },
			user:   testutil.GenerateTestUser(),
			code:   ErrorCodeInvalidRequest,
		},
		{
			name:   "unsupported challenge method",
			modify: func(q url.Values) { q.Set("code_challenge_method", "S512") },
			user:   testutil.GenerateTestUser(),
			code:   ErrorCodeInvalidRequest,
		},
		{
			name:   "short challenge",
			modify: func(q url.Values) { q.Set("code_challenge", "short") },
			user:   testutil.GenerateTestUser(),
			code:   ErrorCodeInvalidRequest,
		},
		{
			name:   "scope not allowed",
			modify: func(q url.Values) { q.Set("scope", "admin") },
			user:   testutil.GenerateTestUser(),
			code:   ErrorCodeInvalidScope,
		},
		{
			name:   "relative resource",
			modify: func(q url.Values) { q.Set("resource", "/api") },
			user:   testutil.GenerateTestUser(),
			code:   ErrorCodeInvalidTarget,
		},
		{
			name:   "unknown response mode",
			modify: func(q url.Values) { q.Set("response_mode", "web_message") },
			user:   testutil.GenerateTestUser(),
			code:   ErrorCodeInvalidRequest,
		},
		{
			name:   "no authenticated user",
			modify: func(url.Values) {},
			user:   nil,
			code:   ErrorCodeAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			query := codeQuery()
			tt.modify(query)

			resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(query, tt.user))
			u, params := redirectParams(t, resp, false)

			if got := u.Scheme + "://" + u.Host + u.Path; got != testutil.TestRedirectURI {
				t.Errorf("redirected to %q, want client %q", got, testutil.TestRedirectURI)
			}
			if params.Get("error") != tt.code {
				t.Errorf("error = %q, want %q (%s)", params.Get("error"), tt.code, params.Get("error_description"))
			}
			if params.Get("state") != "state-123" {
				t.Errorf("state = %q, want state-123", params.Get("state"))
			}
			if params.Get("code") != "" {
				t.Error("error response must not carry a code")
			}
		})
	}
}

func TestAuthorize_Consent(t *testing.T) {
	var seenScopes []string
	srv, _ := newTestServer(t, func(c *Config) {
		c.Consent = func(_ context.Context, _ *storage.Client, _ *storage.User, scopes []string) (bool, error) {
			seenScopes = scopes
			return false, nil
		}
	})

	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(codeQuery(), testutil.GenerateTestUser()))
	_, params := redirectParams(t, resp, false)

	if params.Get("error") != ErrorCodeAccessDenied {
		t.Errorf("error = %q, want access_denied", params.Get("error"))
	}
	if strings.Join(seenScopes, " ") != "openid email" {
		t.Errorf("consent saw scopes %v", seenScopes)
	}
}

func TestAuthorize_FormPost(t *testing.T) {
	srv, _ := newTestServer(t)

	query := codeQuery()
	query.Set("response_mode", ResponseModeFormPost)
	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(query, testutil.GenerateTestUser()))

	if resp.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}
	body := string(resp.Body)
	for _, want := range []string{`action="https://example.com/callback"`, `name="code"`, `name="state" value="state-123"`} {
		if !strings.Contains(body, want) {
			t.Errorf("form_post body missing %q:\n%s", want, body)
		}
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Error("form_post response should not be cached")
	}
}

func TestAuthorize_Implicit(t *testing.T) {
	srv, store := newTestServer(t)

	query := codeQuery()
	query.Set("response_type", "token")
	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(query, testutil.GenerateTestUser()))
	u, params := redirectParams(t, resp, true)

	if u.RawQuery != "" {
		t.Errorf("implicit response must not use the query, got %q", u.RawQuery)
	}
	if params.Get("token_type") != TokenTypeBearer {
		t.Errorf("token_type = %q, want Bearer", params.Get("token_type"))
	}
	if params.Get("refresh_token") != "" {
		t.Error("implicit grant must not issue a refresh token")
	}
	if params.Get("state") != "state-123" {
		t.Errorf("state = %q, want state-123", params.Get("state"))
	}

	at, err := store.GetAccessToken(context.Background(), params.Get("access_token"))
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if at.GrantType != GrantTypeImplicit {
		t.Errorf("GrantType = %q, want implicit", at.GrantType)
	}
}

func TestAuthorize_ImplicitRejectsQueryMode(t *testing.T) {
	srv, _ := newTestServer(t)

	query := codeQuery()
	query.Set("response_type", "token")
	query.Set("response_mode", ResponseModeQuery)
	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(query, testutil.GenerateTestUser()))

	// The error itself travels in the grant's default fragment mode.
	u, params := redirectParams(t, resp, true)
	if u.RawQuery != "" {
		t.Errorf("error leaked into query %q", u.RawQuery)
	}
	if params.Get("error") != ErrorCodeInvalidRequest {
		t.Errorf("error = %q, want invalid_request", params.Get("error"))
	}
	if params.Get("access_token") != "" {
		t.Error("no token may be issued")
	}
}

func TestAuthorize_ResourceNarrowsScopes(t *testing.T) {
	srv, store := newTestServer(t)
	store.SetAudienceScopes("https://api.example.com", []string{"email"})

	query := codeQuery()
	query.Set("resource", "https://api.example.com")
	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(query, testutil.GenerateTestUser()))
	_, params := redirectParams(t, resp, false)

	code, err := store.GetAuthorizationCode(context.Background(), params.Get("code"))
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v (%s)", err, params.Get("error"))
	}
	if strings.Join(code.Scopes, " ") != "email" {
		t.Errorf("Scopes = %v, want [email]", code.Scopes)
	}
	if strings.Join(code.Audience, " ") != "https://api.example.com" {
		t.Errorf("Audience = %v", code.Audience)
	}

	query.Set("resource", "https://unknown.example.com")
	resp = srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(query, testutil.GenerateTestUser()))
	_, params = redirectParams(t, resp, false)
	if params.Get("error") != ErrorCodeInvalidTarget {
		t.Errorf("error = %q, want invalid_target", params.Get("error"))
	}
}

func TestAuthorize_ServerErrorDescriptionIsGeneric(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.Consent = func(context.Context, *storage.Client, *storage.User, []string) (bool, error) {
			return false, errTest
		}
	})

	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(codeQuery(), testutil.GenerateTestUser()))
	_, params := redirectParams(t, resp, false)

	if params.Get("error") != ErrorCodeServerError {
		t.Fatalf("error = %q, want server_error", params.Get("error"))
	}
	if params.Get("error_description") != genericServerErrorDescription {
		t.Errorf("error_description = %q leaks internals", params.Get("error_description"))
	}
}
