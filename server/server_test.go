package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/internal/testutil"
	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/storage"
	"github.com/giantswarm/oauth2-core/storage/memory"
	"github.com/giantswarm/oauth2-core/storage/mock"
)

const testIssuer = "https://auth.example.com"

// newTestServer returns a server backed by a memory store seeded with a
// confidential client, a public client and a user.
func newTestServer(t *testing.T, configure ...func(*Config)) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	store.SetLogger(testutil.DiscardLogger())
	t.Cleanup(store.Stop)

	ctx := context.Background()
	client := testutil.GenerateTestClient()
	client.GrantTypes = []string{
		GrantTypeAuthorizationCode,
		GrantTypeRefreshToken,
		GrantTypePassword,
		GrantTypeClientCredentials,
		GrantTypeJWTBearer,
	}
	client.ResponseTypes = []string{"code", "token"}
	if err := store.SaveClient(ctx, client, testutil.TestClientSecret); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := store.SaveClient(ctx, testutil.GenerateTestPublicClient(), ""); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := store.SaveUser(ctx, testutil.GenerateTestUser(), testutil.TestPassword); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	config := &Config{Issuer: testIssuer}
	for _, fn := range configure {
		fn(config)
	}
	srv, err := New(store, config, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, store
}

func basicAuth(clientID, secret string) string {
	raw := url.QueryEscape(clientID) + ":" + url.QueryEscape(secret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// tokenRequest builds a POST authenticated as the confidential test client.
func tokenRequest(form url.Values) *Request {
	h := make(http.Header)
	h.Set("Authorization", basicAuth(testutil.TestClientID, testutil.TestClientSecret))
	return &Request{Method: http.MethodPost, Header: h, Form: form}
}

// publicTokenRequest builds a POST for the public test client.
func publicTokenRequest(form url.Values) *Request {
	form.Set("client_id", "test-public-client")
	return &Request{Method: http.MethodPost, Header: make(http.Header), Form: form}
}

func authorizeRequest(query url.Values, user *storage.User) *Request {
	return &Request{Method: http.MethodGet, Header: make(http.Header), Query: query, User: user}
}

func decodeJSON[T any](t *testing.T, resp *Response) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", resp.Body, err)
	}
	return v
}

func expectError(t *testing.T, resp *Response, status int, code string) {
	t.Helper()
	if resp.Status != status {
		t.Errorf("Status = %d, want %d (body %s)", resp.Status, status, resp.Body)
	}
	body := decodeJSON[ErrorResponse](t, resp)
	if body.Error != code {
		t.Errorf("error = %q, want %q (%s)", body.Error, code, body.ErrorDescription)
	}
}

func expectTokens(t *testing.T, resp *Response) TokenResponse {
	t.Helper()
	if resp.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body %s)", resp.Status, resp.Body)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	tokens := decodeJSON[TokenResponse](t, resp)
	if tokens.AccessToken == "" {
		t.Fatal("access_token is empty")
	}
	if tokens.TokenType != TokenTypeBearer {
		t.Errorf("token_type = %q, want %q", tokens.TokenType, TokenTypeBearer)
	}
	return tokens
}

// redirectParams parses the query or fragment of a redirect response.
func redirectParams(t *testing.T, resp *Response, fragment bool) (*url.URL, url.Values) {
	t.Helper()
	if resp.Status != http.StatusFound {
		t.Fatalf("Status = %d, want 302 (body %s)", resp.Status, resp.Body)
	}
	u, err := url.Parse(resp.Location)
	if err != nil {
		t.Fatalf("invalid Location %q: %v", resp.Location, err)
	}
	raw := u.RawQuery
	if fragment {
		raw = u.EscapedFragment()
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("invalid redirect parameters %q: %v", raw, err)
	}
	return u, values
}

// authorizeCode runs the authorization endpoint for clientID and returns the code.
func authorizeCode(t *testing.T, srv *Server, clientID, challenge, scope string) string {
	t.Helper()
	resp := srv.HandleAuthorizationRequest(context.Background(), authorizeRequest(url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {testutil.TestRedirectURI},
		"scope":                 {scope},
		"state":                 {"xyz"},
		"code_challenge":        {challenge},
		"code_challenge_method": {PKCEMethodS256},
	}, testutil.GenerateTestUser()))

	_, params := redirectParams(t, resp, false)
	if params.Get("error") != "" {
		t.Fatalf("authorization failed: %s: %s", params.Get("error"), params.Get("error_description"))
	}
	if params.Get("state") != "xyz" {
		t.Errorf("state = %q, want xyz", params.Get("state"))
	}
	code := params.Get("code")
	if code == "" {
		t.Fatal("authorization response has no code")
	}
	return code
}

func TestNew(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		if _, err := New(nil, &Config{Issuer: testIssuer}, nil); err == nil {
			t.Error("New() with nil store should return error")
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		if _, err := New(mock.NewAdapter(), &Config{}, nil); err == nil {
			t.Error("New() without issuer should return error")
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		srv, err := New(mock.NewAdapter(), &Config{Issuer: testIssuer + "/"}, testutil.DiscardLogger())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if srv.Config.TokenEndpoint != testIssuer+DefaultTokenPath {
			t.Errorf("TokenEndpoint = %q", srv.Config.TokenEndpoint)
		}
		if srv.Config.AccessTokenTTL != 3600 {
			t.Errorf("AccessTokenTTL = %d, want 3600", srv.Config.AccessTokenTTL)
		}
		if srv.Config.BasicAuthRealm != "oauth" {
			t.Errorf("BasicAuthRealm = %q, want oauth", srv.Config.BasicAuthRealm)
		}
	})

	t.Run("refresh grant needs refresh storage", func(t *testing.T) {
		srv, err := New(mock.NewAdapter(), &Config{Issuer: testIssuer}, testutil.DiscardLogger())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if _, ok := srv.Grants().GrantType(GrantTypeRefreshToken); ok {
			t.Error("refresh_token grant registered without RefreshTokenStore")
		}
		if srv.TokenIssuer().CanIssueRefreshTokens() {
			t.Error("CanIssueRefreshTokens() = true without RefreshTokenStore")
		}

		full, _ := newTestServer(t)
		if _, ok := full.Grants().GrantType(GrantTypeRefreshToken); !ok {
			t.Error("refresh_token grant missing with memory store")
		}
	})
}

func TestServer_RegisterGrant(t *testing.T) {
	srv, _ := newTestServer(t)
	before := len(srv.Grants())

	srv.RegisterGrant(NewPasswordGrant(srv))
	if len(srv.Grants()) != before {
		t.Errorf("re-registering a grant changed the registry size to %d", len(srv.Grants()))
	}

	srv.SetGrants(NewClientCredentialsGrant(srv))
	if _, ok := srv.Grants().GrantType(GrantTypePassword); ok {
		t.Error("SetGrants() should replace the registry")
	}
	if !slices.Equal(srv.Grants().GrantTypes(), []string{GrantTypeClientCredentials}) {
		t.Errorf("GrantTypes() = %v", srv.Grants().GrantTypes())
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "https issuer", config: Config{Issuer: "https://auth.example.com"}},
		{name: "missing issuer", config: Config{}, wantErr: true},
		{name: "http on localhost", config: Config{Issuer: "http://localhost:8080"}},
		{name: "http on loopback ip", config: Config{Issuer: "http://127.0.0.1:8080"}},
		{name: "http on public host", config: Config{Issuer: "http://auth.example.com"}, wantErr: true},
		{name: "http explicitly allowed", config: Config{Issuer: "http://auth.example.com", AllowInsecureHTTP: true}},
		{name: "issuer with query", config: Config{Issuer: "https://auth.example.com?tenant=a"}, wantErr: true},
		{name: "issuer with fragment", config: Config{Issuer: "https://auth.example.com#x"}, wantErr: true},
		{name: "unsupported scheme", config: Config{Issuer: "ftp://auth.example.com"}, wantErr: true},
		{name: "negative ttl", config: Config{Issuer: "https://auth.example.com", AccessTokenTTL: -1}, wantErr: true},
		{name: "negative clock skew", config: Config{Issuer: "https://auth.example.com", ClockSkewGracePeriod: -1}, wantErr: true},
		{name: "relative token endpoint", config: Config{Issuer: "https://auth.example.com", TokenEndpoint: "/token"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := applySecureDefaults(&tt.config, testutil.DiscardLogger())
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_AssertionAudiences(t *testing.T) {
	config := applySecureDefaults(&Config{Issuer: testIssuer}, testutil.DiscardLogger())
	want := []string{testIssuer + DefaultTokenPath, testIssuer}
	if got := config.assertionAudiences(); !slices.Equal(got, want) {
		t.Errorf("assertionAudiences() = %v, want %v", got, want)
	}
}

func TestAllowSecurityLog_RecordsOnRequestContext(t *testing.T) {
	srv, _ := newTestServer(t)

	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:       true,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	srv.SetInstrumentation(inst)

	limiter := security.NewRateLimiter(0.001, 1, testutil.DiscardLogger())
	t.Cleanup(limiter.Stop)
	srv.SetSecurityEventRateLimiter(limiter)

	ctx, span := sdktrace.NewTracerProvider().Tracer("test").Start(context.Background(), "token request")
	defer span.End()

	if !srv.allowSecurityLog(ctx, "client_auth:192.0.2.1") {
		t.Fatal("first event should be allowed")
	}
	if srv.allowSecurityLog(ctx, "client_auth:192.0.2.1") {
		t.Fatal("second event should be throttled")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	traceID := span.SpanContext().TraceID()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "oauth.rate_limit.exceeded" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
				t.Fatalf("oauth.rate_limit.exceeded = %+v, want one violation", m.Data)
			}
			for _, ex := range sum.DataPoints[0].Exemplars {
				if bytes.Equal(ex.TraceID, traceID[:]) {
					return
				}
			}
			t.Fatal("rate limit metric was not recorded on the request's trace")
		}
	}
	t.Fatal("oauth.rate_limit.exceeded not recorded")
}
