package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/giantswarm/oauth2-core"
	"github.com/giantswarm/oauth2-core/internal/testutil"
	"github.com/giantswarm/oauth2-core/server"
	"github.com/giantswarm/oauth2-core/storage"
	"github.com/giantswarm/oauth2-core/storage/memory"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	store.SetLogger(testutil.DiscardLogger())
	t.Cleanup(store.Stop)

	err := seed(context.Background(), store,
		[]ClientConfig{
			{ID: "web", Secret: "s3cret", RedirectURIs: []string{"https://app.example.com/cb"}, Scopes: []string{"openid"}},
			{ID: "spa", RedirectURIs: []string{"https://spa.example.com/cb"}},
		},
		[]UserConfig{{ID: "u1", Username: "alice", Password: "wonderland"}},
	)
	require.NoError(t, err)
	return store
}

func TestSeed(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	web, err := store.GetClient(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "client_secret_basic", web.TokenEndpointAuthMethod)
	assert.Equal(t, []string{"code"}, web.ResponseTypes)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, web.GrantTypes)
	require.NoError(t, store.ValidateClientSecret(ctx, "web", "s3cret"))

	spa, err := store.GetClient(ctx, "spa")
	require.NoError(t, err)
	assert.Equal(t, "none", spa.TokenEndpointAuthMethod)
	assert.True(t, spa.IsPublic())

	user, err := store.AuthenticateUser(ctx, "alice", "wonderland")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestBasicAuthLogin(t *testing.T) {
	store := seededStore(t)
	resolve := basicAuthLogin(store, testutil.DiscardLogger())

	t.Run("valid credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
		req.SetBasicAuth("alice", "wonderland")
		rec := httptest.NewRecorder()

		user, err := resolve(rec, req)
		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
	})

	for name, setAuth := range map[string]func(*http.Request){
		"no credentials": func(*http.Request) {},
		"wrong password": func(r *http.Request) { r.SetBasicAuth("alice", "nope") },
		"unknown user":   func(r *http.Request) { r.SetBasicAuth("bob", "wonderland") },
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
			setAuth(req)
			rec := httptest.NewRecorder()

			user, err := resolve(rec, req)
			assert.Nil(t, user)
			assert.ErrorIs(t, err, oauth.ErrLoginRequired)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `Basic realm="authserver"`)
		})
	}
}

func TestRouter_EndToEnd(t *testing.T) {
	store := seededStore(t)
	srv, err := server.New(store, &server.Config{Issuer: "http://localhost:8080"}, testutil.DiscardLogger())
	require.NoError(t, err)
	h := oauth.NewHandler(srv, &oauth.Config{UserResolver: basicAuthLogin(store, testutil.DiscardLogger())}, testutil.DiscardLogger())
	router := newRouter(h, testutil.DiscardLogger())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without credentials the login challenge is returned
	challenge, verifier := testutil.GeneratePKCEPair()
	query := url.Values{
		"response_type":         {"code"},
		"client_id":             {"web"},
		"redirect_uri":          {"https://app.example.com/cb"},
		"scope":                 {"openid"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+query.Encode(), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+query.Encode(), nil)
	req.SetBasicAuth("alice", "wonderland")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app.example.com/cb"},
		"code_verifier": {verifier},
	}
	req = httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("web", "s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens oauth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)

	req = httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sub":"u1","client_id":"web"}`, rec.Body.String())
}

func TestOpenBackend(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		be, err := openBackend(StorageConfig{Type: "memory"}, testutil.DiscardLogger(), nil)
		require.NoError(t, err)
		defer be.close()
		assert.Nil(t, be.sweep)
		_, ok := be.store.(storage.RefreshTokenStore)
		assert.True(t, ok)
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "oauth.db")
		be, err := openBackend(StorageConfig{Type: "sqlite", SQLite: SQLiteConfig{Path: path}}, testutil.DiscardLogger(), nil)
		require.NoError(t, err)
		defer be.close()
		require.NotNil(t, be.sweep)

		n, err := be.sweep(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := openBackend(StorageConfig{Type: "postgres"}, testutil.DiscardLogger(), nil)
		assert.Error(t, err)
	})
}

func TestRunSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})

	go func() {
		runSweeper(ctx, 5*time.Millisecond, func(context.Context) (int64, error) {
			if calls.Add(1) == 2 {
				return 0, errors.New("database is locked")
			}
			return 1, nil
		}, testutil.DiscardLogger())
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runSweeper did not stop after cancel")
	}
}
