package oauth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/oauth2-core/server"
	"github.com/giantswarm/oauth2-core/storage"
)

// protectedResource echoes the client of the validated token
func protectedResource(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := AccessTokenFromContext(r.Context())
		if !ok {
			t.Error("AccessTokenFromContext() found no token")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(token.ClientID))
	})
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/resource", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestValidateToken(t *testing.T) {
	h, _ := setupTestHandler(t)
	token := issueTokens(t, h.Routes(), "openid email")
	protected := h.ValidateToken(protectedResource(t))

	t.Run("valid", func(t *testing.T) {
		rec := serve(protected, bearerRequest(token.AccessToken))
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, want 200 (body %s)", rec.Code, rec.Body)
		}
		if rec.Body.String() == "" {
			t.Error("handler did not see the token's client")
		}
	})

	t.Run("scheme is case-insensitive", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/resource", nil)
		req.Header.Set("Authorization", "bearer "+token.AccessToken)
		if rec := serve(protected, req); rec.Code != http.StatusOK {
			t.Errorf("Status = %d, want 200", rec.Code)
		}
	})

	t.Run("missing", func(t *testing.T) {
		rec := serve(protected, bearerRequest(""))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Status = %d, want 401", rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="oauth"` {
			t.Errorf("WWW-Authenticate = %q", got)
		}
	})

	t.Run("basic scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/resource", nil)
		req.Header.Set("Authorization", basicAuth())
		if rec := serve(protected, req); rec.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want 401", rec.Code)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		rec := serve(protected, bearerRequest("not-a-token"))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Status = %d, want 401", rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, `error="invalid_token"`) {
			t.Errorf("WWW-Authenticate = %q, want invalid_token", got)
		}
	})

	t.Run("revoked", func(t *testing.T) {
		rec := serve(h.Routes(), postForm("/oauth/revoke", url.Values{
			"token":           {token.AccessToken},
			"token_type_hint": {server.TokenTypeHintAccessToken},
		}))
		if rec.Code != http.StatusOK {
			t.Fatalf("revoke status = %d, want 200 (body %s)", rec.Code, rec.Body)
		}
		if rec := serve(protected, bearerRequest(token.AccessToken)); rec.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want 401 after revocation", rec.Code)
		}
	})
}

func TestRequireScopes(t *testing.T) {
	h, _ := setupTestHandler(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	withToken := func(scopes ...string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/resource", nil)
		token := &storage.AccessToken{Token: storage.Token{ID: "t", ClientID: "c", Scopes: scopes}}
		return req.WithContext(ContextWithAccessToken(req.Context(), token))
	}

	tests := []struct {
		name       string
		req        *http.Request
		required   []string
		wantStatus int
	}{
		{"granted", withToken("openid", "email"), []string{"email"}, http.StatusNoContent},
		{"nothing required", withToken(), nil, http.StatusNoContent},
		{"missing scope", withToken("openid"), []string{"email"}, http.StatusForbidden},
		{"no token", httptest.NewRequest(http.MethodGet, "/api/resource", nil), []string{"email"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h.RequireScopes(tt.required...)(ok), tt.req)
			if rec.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	t.Run("challenge names the scope", func(t *testing.T) {
		rec := serve(h.RequireScopes("email", "profile")(ok), withToken("openid"))
		got := rec.Header().Get("WWW-Authenticate")
		if !strings.Contains(got, `error="insufficient_scope"`) || !strings.Contains(got, `scope="email profile"`) {
			t.Errorf("WWW-Authenticate = %q", got)
		}
	})
}

func TestIntrospection_ThroughRoutes(t *testing.T) {
	h, _ := setupTestHandler(t)
	routes := h.Routes()
	token := issueTokens(t, routes, "openid")

	rec := serve(routes, postForm("/oauth/introspect", url.Values{"token": {token.AccessToken}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"active":true`) {
		t.Errorf("body = %s, want an active token", rec.Body)
	}
}
