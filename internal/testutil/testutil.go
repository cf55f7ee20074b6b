package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oauth2-core/storage"
)

// Fixture identifiers shared by tests
const (
	TestClientID     = "test-client-id"
	TestClientSecret = "test-client-secret"
	TestRedirectURI  = "https://example.com/callback"
	TestUserID       = "test-user-123"
	TestUsername     = "alice"
	TestPassword     = "correct horse battery staple"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// GenerateTestClient creates a confidential test client using client_secret_basic
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                TestClientID,
		ClientName:              "Test Client",
		RedirectURIs:            []string{TestRedirectURI},
		Scopes:                  []string{"openid", "email", "profile"},
		TokenEndpointAuthMethod: "client_secret_basic",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		CreatedAt:               time.Now(),
	}
}

// GenerateTestPublicClient creates a public test client (token_endpoint_auth_method none)
func GenerateTestPublicClient() *storage.Client {
	c := GenerateTestClient()
	c.ClientID = "test-public-client"
	c.TokenEndpointAuthMethod = "none"
	return c
}

// GenerateTestUser creates a test resource owner without a password hash
func GenerateTestUser() *storage.User {
	return &storage.User{
		ID:        TestUserID,
		Username:  TestUsername,
		CreatedAt: time.Now(),
	}
}

// GenerateTestAuthorizationCode creates a test authorization code
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	challenge, _ := GeneratePKCEPair()
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:                GenerateRandomString(32),
		ClientID:            TestClientID,
		UserID:              TestUserID,
		RedirectURI:         TestRedirectURI,
		Scopes:              []string{"openid", "email"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		FamilyID:            GenerateRandomString(16),
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}

// GenerateTestToken creates the shared fields of a test token
func GenerateTestToken(familyID string) storage.Token {
	now := time.Now()
	return storage.Token{
		ID:        GenerateRandomString(32),
		ClientID:  TestClientID,
		UserID:    TestUserID,
		Scopes:    []string{"openid", "email"},
		GrantType: "authorization_code",
		FamilyID:  familyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

// GenerateTestAccessToken creates a test access token in familyID
func GenerateTestAccessToken(familyID string) *storage.AccessToken {
	return &storage.AccessToken{Token: GenerateTestToken(familyID)}
}

// GenerateTestRefreshToken creates a test refresh token in familyID bound to accessTokenID
func GenerateTestRefreshToken(familyID, accessTokenID string) *storage.RefreshToken {
	rt := &storage.RefreshToken{Token: GenerateTestToken(familyID), AccessTokenID: accessTokenID}
	rt.ExpiresAt = rt.IssuedAt.Add(24 * time.Hour)
	return rt
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for testing.
// Returns (challenge, verifier) where challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// GenerateRSAKey creates a 2048-bit RSA key, failing the test on error
func GenerateRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// JWKS returns a JSON Web Key Set holding the public half of key under keyID
func JWKS(t testing.TB, key *rsa.PrivateKey, keyID, algorithm string) []byte {
	t.Helper()
	set := gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     keyID,
		Algorithm: algorithm,
		Use:       "sig",
	}}}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}
	return data
}

// AssertionClaims builds the claims of a JWT assertion valid for five minutes
func AssertionClaims(issuer, subject, audience string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": issuer,
		"sub": subject,
		"aud": audience,
		"jti": GenerateRandomString(24),
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
}

// SignAssertion signs claims with key using alg, setting kid when keyID is not empty
func SignAssertion(t testing.TB, claims jwt.MapClaims, key any, alg, keyID string) string {
	t.Helper()
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		t.Fatalf("unknown signing method %q", alg)
	}
	token := jwt.NewWithClaims(method, claims)
	if keyID != "" {
		token.Header["kid"] = keyID
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign assertion: %v", err)
	}
	return signed
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}
