// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/jose"
	"github.com/giantswarm/oauth2-core/storage"
)

// tokenIDLogLength is the number of characters to include when logging token IDs
const tokenIDLogLength = 8

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients   map[string]*storage.Client
	users     map[string]*storage.User // user ID -> user
	usernames map[string]string        // username -> user ID

	authCodes     map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	// issuer + "\x00" + jti -> expiry
	assertions map[string]time.Time

	// Optional policy
	audienceScopes  map[string][]string              // resource -> scopes it accepts
	trustedIssuers  map[string]*gojose.JSONWebKeySet // JWT bearer issuer -> keys
	assertionSecret map[string][]byte                // client ID -> client_secret_jwt key

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	codesCountAtomic         atomic.Int64
	accessTokensCountAtomic  atomic.Int64
	refreshTokensCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Adapter                    = (*Store)(nil)
	_ storage.RefreshTokenStore          = (*Store)(nil)
	_ storage.TokenFamilyRevoker         = (*Store)(nil)
	_ storage.AssertionReplayStore       = (*Store)(nil)
	_ storage.AudienceResolver           = (*Store)(nil)
	_ storage.ClientAssertionKeyResolver = (*Store)(nil)
	_ storage.JWTBearerKeyResolver       = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*storage.User),
		usernames:       make(map[string]string),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		assertions:      make(map[string]time.Time),
		audienceScopes:  make(map[string][]string),
		trustedIssuers:  make(map[string]*gojose.JSONWebKeySet),
		assertionSecret: make(map[string][]byte),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.accessTokensCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// Seeding
// ============================================================

// SaveClient registers or replaces a client. A non-empty secret is hashed
// with bcrypt and replaces ClientSecretHash.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client, secret string) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("client ID is required")
		return err
	}

	c := *client
	if secret != "" {
		c.ClientSecretHash, err = storage.HashSecret(secret)
		if err != nil {
			return err
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ClientID] = &c

	s.logger.Debug("Saved client", "client_id", c.ClientID)
	return nil
}

// SaveUser registers or replaces a resource owner. A non-empty password is
// hashed with bcrypt and replaces PasswordHash.
func (s *Store) SaveUser(ctx context.Context, user *storage.User, password string) error {
	ctx, span := s.startStorageSpan(ctx, "save_user")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_user", err, startTime)
	}()

	if user == nil || user.ID == "" {
		err = fmt.Errorf("user ID is required")
		return err
	}

	u := *user
	if password != "" {
		u.PasswordHash, err = storage.HashSecret(password)
		if err != nil {
			return err
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.users[u.ID]; ok && old.Username != "" {
		delete(s.usernames, old.Username)
	}
	s.users[u.ID] = &u
	if u.Username != "" {
		s.usernames[u.Username] = u.ID
	}
	return nil
}

// SetAudienceScopes registers the scopes a resource server accepts. Once any
// resource is registered, requests naming unregistered resources are
// rejected and scopes are narrowed to those the resources accept.
func (s *Store) SetAudienceScopes(resource string, scopes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audienceScopes[resource] = append([]string(nil), scopes...)
}

// AddTrustedIssuer registers the JWKS of an issuer allowed to present JWT
// bearer assertions.
func (s *Store) AddTrustedIssuer(issuer string, jwks []byte) error {
	set, err := jose.ParseKeySet(jwks)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trustedIssuers[issuer] = set
	return nil
}

// SetClientAssertionSecret registers the shared key a client signs
// client_secret_jwt assertions with.
func (s *Store) SetClientAssertionSecret(clientID string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertionSecret[clientID] = append([]byte(nil), key...)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}
	c := *client
	return &c, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Unknown clients are compared against a dummy hash so timing does not
// reveal which client IDs exist.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	var hash string
	if client, ok := s.clients[clientID]; ok {
		hash = client.ClientSecretHash
	}
	s.mu.RUnlock()

	if !storage.CompareSecret(hash, clientSecret) {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ============================================================
// UserStore Implementation
// ============================================================

// GetUser retrieves a user by ID
func (s *Store) GetUser(_ context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}
	u := *user
	return &u, nil
}

// AuthenticateUser verifies a username and password
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) (*storage.User, error) {
	ctx, span := s.startStorageSpan(ctx, "authenticate_user")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "authenticate_user", err, startTime)
	}()

	s.mu.RLock()
	var user *storage.User
	var hash string
	if id, ok := s.usernames[username]; ok {
		user = s.users[id]
		hash = user.PasswordHash
	}
	s.mu.RUnlock()

	if !storage.CompareSecret(hash, password) || user == nil {
		err = storage.ErrInvalidCredentials
		return nil, err
	}
	u := *user
	return &u, nil
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// CreateAuthorizationCode saves an authorization code
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "create_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "create_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("authorization code is required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.authCodes[code.Code]; exists {
		err = fmt.Errorf("authorization code already exists")
		return err
	}
	c := *code
	s.authCodes[code.Code] = &c
	s.codesCountAtomic.Add(1)

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	c := *authCode
	return &c, nil
}

// ConsumeAuthorizationCode atomically checks and marks an authorization code as used.
// The check and the mark happen under the same write lock, so of two
// concurrent callers exactly one succeeds. The loser receives the record and
// ErrAuthorizationCodeUsed so the caller can revoke the code's token family.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	}
	if authCode.Used {
		c := *authCode
		return &c, storage.ErrAuthorizationCodeUsed
	}
	authCode.Used = true
	c := *authCode
	return &c, nil
}

// RevokeAuthorizationCode removes an authorization code
func (s *Store) RevokeAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code]; !ok {
		return storage.ErrAuthorizationCodeNotFound
	}
	delete(s.authCodes, code)
	s.codesCountAtomic.Add(-1)
	return nil
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// CreateAccessToken saves an access token
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "create_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "create_access_token", err, startTime)
	}()

	if token == nil || token.ID == "" {
		err = fmt.Errorf("token ID is required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[token.ID]; !exists {
		s.accessTokensCountAtomic.Add(1)
	}
	t := *token
	s.accessTokens[token.ID] = &t
	return nil
}

// GetAccessToken retrieves an access token, including revoked ones
func (s *Store) GetAccessToken(_ context.Context, token string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.accessTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	t := *at
	return &t, nil
}

// RevokeAccessToken marks an access token as revoked
func (s *Store) RevokeAccessToken(ctx context.Context, token string) error {
	ctx, span := s.startStorageSpan(ctx, "revoke_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_access_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.accessTokens[token]
	if !ok {
		err = storage.ErrTokenNotFound
		return err
	}
	at.Revoked = true
	return nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// CreateRefreshToken saves a refresh token
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "create_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "create_refresh_token", err, startTime)
	}()

	if token == nil || token.ID == "" {
		err = fmt.Errorf("token ID is required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.ID]; !exists {
		s.refreshTokensCountAtomic.Add(1)
	}
	t := *token
	s.refreshTokens[token.ID] = &t
	return nil
}

// GetRefreshToken retrieves a refresh token, including revoked ones
func (s *Store) GetRefreshToken(_ context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	t := *rt
	return &t, nil
}

// ConsumeRefreshToken atomically revokes a refresh token and returns it.
// A token that was already revoked is returned with ErrTokenRevoked.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_refresh_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refreshTokens[token]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}
	if rt.Revoked {
		t := *rt
		return &t, storage.ErrTokenRevoked
	}
	rt.Revoked = true
	t := *rt
	return &t, nil
}

// RevokeRefreshToken marks a refresh token as revoked
func (s *Store) RevokeRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refreshTokens[token]
	if !ok {
		return storage.ErrTokenNotFound
	}
	rt.Revoked = true
	return nil
}

// ============================================================
// Token Family Revocation
// ============================================================

// RevokeTokenFamily revokes every access and refresh token issued under familyID
func (s *Store) RevokeTokenFamily(ctx context.Context, familyID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_token_family")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_token_family", err, startTime)
	}()

	if familyID == "" {
		err = fmt.Errorf("family ID is required")
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, at := range s.accessTokens {
		if at.FamilyID == familyID && !at.Revoked {
			at.Revoked = true
			revoked++
		}
	}
	for _, rt := range s.refreshTokens {
		if rt.FamilyID == familyID && !rt.Revoked {
			rt.Revoked = true
			revoked++
		}
	}

	s.logger.Info("Revoked token family",
		"family_id", util.SafeTruncate(familyID, tokenIDLogLength),
		"tokens_revoked", revoked)
	return revoked, nil
}

// ============================================================
// Assertions
// ============================================================

// MarkAssertionUsed records an assertion identifier until it expires
func (s *Store) MarkAssertionUsed(_ context.Context, issuer, jti string, expiresAt time.Time) error {
	key := issuer + "\x00" + jti

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, seen := s.assertions[key]; seen && s.now().Before(exp) {
		return storage.ErrAssertionReplayed
	}
	s.assertions[key] = expiresAt
	return nil
}

// ClientAssertionKey returns the shared key registered with
// SetClientAssertionSecret for HMAC algorithms. Other algorithms report
// jose.ErrKeyNotFound so the client's registered JWKS is used.
func (s *Store) ClientAssertionKey(_ context.Context, client *storage.Client, _, algorithm string) (any, error) {
	if !slices.Contains(jose.SymmetricAlgorithms, algorithm) {
		return nil, jose.ErrKeyNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.assertionSecret[client.ClientID]
	if !ok {
		return nil, jose.ErrKeyNotFound
	}
	return append([]byte(nil), key...), nil
}

// AssertionIssuerKey returns the verification key of a trusted issuer
func (s *Store) AssertionIssuerKey(_ context.Context, issuer, keyID, algorithm string) (any, error) {
	s.mu.RLock()
	set, ok := s.trustedIssuers[issuer]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: untrusted issuer %q", jose.ErrKeyNotFound, issuer)
	}
	return jose.KeyFromSet(set, keyID, algorithm)
}

// GetAudienceScopes narrows scopes to those accepted by the requested resources.
// Without registered resources scopes pass through unchanged.
func (s *Store) GetAudienceScopes(_ context.Context, resources, scopes []string, _ *storage.Client, _ *storage.User) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.audienceScopes) == 0 {
		return scopes, nil
	}

	accepted := make(map[string]struct{})
	for _, resource := range resources {
		allowed, ok := s.audienceScopes[resource]
		if !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrUnknownResource, resource)
		}
		for _, scope := range allowed {
			accepted[scope] = struct{}{}
		}
	}

	narrowed := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if _, ok := accepted[scope]; ok {
			narrowed = append(narrowed, scope)
		}
	}
	if len(scopes) > 0 && len(narrowed) == 0 {
		return nil, storage.ErrScopeNotAllowed
	}
	return narrowed, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops expired codes, tokens and assertion identifiers.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for code, authCode := range s.authCodes {
		if authCode.IsExpired(now) {
			delete(s.authCodes, code)
			s.codesCountAtomic.Add(-1)
			cleaned++
		}
	}
	for id, at := range s.accessTokens {
		if !now.Before(at.ExpiresAt) {
			delete(s.accessTokens, id)
			s.accessTokensCountAtomic.Add(-1)
			cleaned++
		}
	}
	for id, rt := range s.refreshTokens {
		if !now.Before(rt.ExpiresAt) {
			delete(s.refreshTokens, id)
			s.refreshTokensCountAtomic.Add(-1)
			cleaned++
		}
	}
	for key, exp := range s.assertions {
		if !now.Before(exp) {
			delete(s.assertions, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
