// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth2-core/storage"
)

// Adapter is a mock implementation of storage.Adapter for testing. It
// implements none of the optional capabilities, so the engine falls back to
// its defaults. Every method delegates to an overridable Func field whose
// default is backed by in-memory maps.
type Adapter struct {
	mu           sync.RWMutex
	clients      map[string]*storage.Client
	users        map[string]*storage.User
	codes        map[string]*storage.AuthorizationCode
	accessTokens map[string]*storage.AccessToken

	GetClientFunc                func(ctx context.Context, clientID string) (*storage.Client, error)
	ValidateClientSecretFunc     func(ctx context.Context, clientID, secret string) error
	GetUserFunc                  func(ctx context.Context, userID string) (*storage.User, error)
	AuthenticateUserFunc         func(ctx context.Context, username, password string) (*storage.User, error)
	CreateAuthorizationCodeFunc  func(ctx context.Context, code *storage.AuthorizationCode) error
	GetAuthorizationCodeFunc     func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	ConsumeAuthorizationCodeFunc func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	RevokeAuthorizationCodeFunc  func(ctx context.Context, code string) error
	CreateAccessTokenFunc        func(ctx context.Context, token *storage.AccessToken) error
	GetAccessTokenFunc           func(ctx context.Context, token string) (*storage.AccessToken, error)
	RevokeAccessTokenFunc        func(ctx context.Context, token string) error

	callsMu    sync.Mutex
	CallCounts map[string]int
}

var _ storage.Adapter = (*Adapter)(nil)

// NewAdapter creates a new mock adapter
func NewAdapter() *Adapter {
	m := &Adapter{
		clients:      make(map[string]*storage.Client),
		users:        make(map[string]*storage.User),
		codes:        make(map[string]*storage.AuthorizationCode),
		accessTokens: make(map[string]*storage.AccessToken),
		CallCounts:   make(map[string]int),
	}

	// Set default implementations
	m.GetClientFunc = func(_ context.Context, clientID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		client, ok := m.clients[clientID]
		if !ok {
			return nil, storage.ErrClientNotFound
		}
		c := *client
		return &c, nil
	}

	m.ValidateClientSecretFunc = func(_ context.Context, clientID, secret string) error {
		m.mu.RLock()
		var hash string
		if client, ok := m.clients[clientID]; ok {
			hash = client.ClientSecretHash
		}
		m.mu.RUnlock()
		if !storage.CompareSecret(hash, secret) {
			return storage.ErrInvalidClientCredentials
		}
		return nil
	}

	m.GetUserFunc = func(_ context.Context, userID string) (*storage.User, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		user, ok := m.users[userID]
		if !ok {
			return nil, storage.ErrUserNotFound
		}
		u := *user
		return &u, nil
	}

	m.AuthenticateUserFunc = func(_ context.Context, username, password string) (*storage.User, error) {
		m.mu.RLock()
		var found *storage.User
		for _, u := range m.users {
			if u.Username == username {
				found = u
				break
			}
		}
		m.mu.RUnlock()
		if found == nil || !storage.CompareSecret(found.PasswordHash, password) {
			return nil, storage.ErrInvalidCredentials
		}
		u := *found
		return &u, nil
	}

	m.CreateAuthorizationCodeFunc = func(_ context.Context, code *storage.AuthorizationCode) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		c := *code
		m.codes[code.Code] = &c
		return nil
	}

	m.GetAuthorizationCodeFunc = func(_ context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		c, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		cp := *c
		return &cp, nil
	}

	m.ConsumeAuthorizationCodeFunc = func(_ context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		c, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		if c.Used {
			cp := *c
			return &cp, storage.ErrAuthorizationCodeUsed
		}
		c.Used = true
		cp := *c
		return &cp, nil
	}

	m.RevokeAuthorizationCodeFunc = func(_ context.Context, code string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.codes, code)
		return nil
	}

	m.CreateAccessTokenFunc = func(_ context.Context, token *storage.AccessToken) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		t := *token
		m.accessTokens[token.ID] = &t
		return nil
	}

	m.GetAccessTokenFunc = func(_ context.Context, token string) (*storage.AccessToken, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		t, ok := m.accessTokens[token]
		if !ok {
			return nil, storage.ErrTokenNotFound
		}
		cp := *t
		return &cp, nil
	}

	m.RevokeAccessTokenFunc = func(_ context.Context, token string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		t, ok := m.accessTokens[token]
		if !ok {
			return storage.ErrTokenNotFound
		}
		t.Revoked = true
		return nil
	}

	return m
}

// AddClient registers a client. A non-empty secret is hashed into ClientSecretHash.
func (m *Adapter) AddClient(client *storage.Client, secret string) error {
	c := *client
	if secret != "" {
		hash, err := storage.HashSecret(secret)
		if err != nil {
			return err
		}
		c.ClientSecretHash = hash
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ClientID] = &c
	return nil
}

// AddUser registers a user. A non-empty password is hashed into PasswordHash.
func (m *Adapter) AddUser(user *storage.User, password string) error {
	u := *user
	if password != "" {
		hash, err := storage.HashSecret(password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
	return nil
}

func (m *Adapter) record(method string) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.CallCounts[method]++
}

// Calls returns how many times method was invoked
func (m *Adapter) Calls(method string) int {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	return m.CallCounts[method]
}

// GetClient implements storage.ClientStore
func (m *Adapter) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.record("GetClient")
	return m.GetClientFunc(ctx, clientID)
}

// ValidateClientSecret implements storage.ClientStore
func (m *Adapter) ValidateClientSecret(ctx context.Context, clientID, secret string) error {
	m.record("ValidateClientSecret")
	return m.ValidateClientSecretFunc(ctx, clientID, secret)
}

// GetUser implements storage.UserStore
func (m *Adapter) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	m.record("GetUser")
	return m.GetUserFunc(ctx, userID)
}

// AuthenticateUser implements storage.UserStore
func (m *Adapter) AuthenticateUser(ctx context.Context, username, password string) (*storage.User, error) {
	m.record("AuthenticateUser")
	return m.AuthenticateUserFunc(ctx, username, password)
}

// CreateAuthorizationCode implements storage.AuthorizationCodeStore
func (m *Adapter) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.record("CreateAuthorizationCode")
	return m.CreateAuthorizationCodeFunc(ctx, code)
}

// GetAuthorizationCode implements storage.AuthorizationCodeStore
func (m *Adapter) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.record("GetAuthorizationCode")
	return m.GetAuthorizationCodeFunc(ctx, code)
}

// ConsumeAuthorizationCode implements storage.AuthorizationCodeStore
func (m *Adapter) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.record("ConsumeAuthorizationCode")
	return m.ConsumeAuthorizationCodeFunc(ctx, code)
}

// RevokeAuthorizationCode implements storage.AuthorizationCodeStore
func (m *Adapter) RevokeAuthorizationCode(ctx context.Context, code string) error {
	m.record("RevokeAuthorizationCode")
	return m.RevokeAuthorizationCodeFunc(ctx, code)
}

// CreateAccessToken implements storage.AccessTokenStore
func (m *Adapter) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	m.record("CreateAccessToken")
	return m.CreateAccessTokenFunc(ctx, token)
}

// GetAccessToken implements storage.AccessTokenStore
func (m *Adapter) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	m.record("GetAccessToken")
	return m.GetAccessTokenFunc(ctx, token)
}

// RevokeAccessToken implements storage.AccessTokenStore
func (m *Adapter) RevokeAccessToken(ctx context.Context, token string) error {
	m.record("RevokeAccessToken")
	return m.RevokeAccessTokenFunc(ctx, token)
}

// ScopePolicyAdapter adds storage.ScopeValidator and storage.AudienceResolver
// to Adapter.
type ScopePolicyAdapter struct {
	*Adapter

	CheckClientScopeFunc  func(ctx context.Context, client *storage.Client, scopes []string) ([]string, error)
	GetAudienceScopesFunc func(ctx context.Context, resources, scopes []string, client *storage.Client, user *storage.User) ([]string, error)
}

var (
	_ storage.ScopeValidator   = (*ScopePolicyAdapter)(nil)
	_ storage.AudienceResolver = (*ScopePolicyAdapter)(nil)
)

// NewScopePolicyAdapter creates a mock adapter whose scope policy passes
// scopes through unchanged until the Func fields are overridden.
func NewScopePolicyAdapter() *ScopePolicyAdapter {
	return &ScopePolicyAdapter{
		Adapter: NewAdapter(),
		CheckClientScopeFunc: func(_ context.Context, _ *storage.Client, scopes []string) ([]string, error) {
			return scopes, nil
		},
		GetAudienceScopesFunc: func(_ context.Context, _, scopes []string, _ *storage.Client, _ *storage.User) ([]string, error) {
			return scopes, nil
		},
	}
}

// CheckClientScope implements storage.ScopeValidator
func (m *ScopePolicyAdapter) CheckClientScope(ctx context.Context, client *storage.Client, scopes []string) ([]string, error) {
	m.record("CheckClientScope")
	return m.CheckClientScopeFunc(ctx, client, scopes)
}

// GetAudienceScopes implements storage.AudienceResolver
func (m *ScopePolicyAdapter) GetAudienceScopes(ctx context.Context, resources, scopes []string, client *storage.Client, user *storage.User) ([]string, error) {
	m.record("GetAudienceScopes")
	return m.GetAudienceScopesFunc(ctx, resources, scopes, client, user)
}
