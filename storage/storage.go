package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClientNotFound is returned when no client matches the identifier.
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientCredentials is returned when a client secret does not match.
	ErrInvalidClientCredentials = errors.New("invalid client credentials")

	// ErrUserNotFound is returned when no user matches the identifier.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned when a username/password pair does not match.
	ErrInvalidCredentials = errors.New("invalid user credentials")

	// ErrAuthorizationCodeNotFound is returned when the code is unknown or already expired.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeUsed is returned by ConsumeAuthorizationCode when the
	// code was consumed before. The record is returned alongside so the caller
	// can revoke everything issued from it.
	ErrAuthorizationCodeUsed = errors.New("authorization code already used")

	// ErrTokenNotFound is returned when a token is unknown.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenRevoked is returned by ConsumeRefreshToken when the token was
	// already consumed or revoked. The record is returned alongside.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrAssertionReplayed is returned when a JWT assertion identifier was seen before.
	ErrAssertionReplayed = errors.New("assertion already used")

	// ErrScopeNotAllowed is returned by ScopeValidator and AudienceResolver
	// when the client may not receive a requested scope (invalid_scope).
	ErrScopeNotAllowed = errors.New("scope not allowed")

	// ErrAccessDenied is returned by ScopeValidator when policy refuses the
	// request outright (access_denied).
	ErrAccessDenied = errors.New("access denied")

	// ErrUnknownResource is returned by AudienceResolver for resources it does
	// not serve (invalid_target).
	ErrUnknownResource = errors.New("unknown resource")
)

// ClientStore looks up registered clients. Clients are read-only to the engine.
type ClientStore interface {
	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret returns nil when secret matches the client's stored secret.
	// Implementations should compare in constant time and return
	// ErrInvalidClientCredentials for both unknown clients and wrong secrets.
	ValidateClientSecret(ctx context.Context, clientID, secret string) error
}

// UserStore looks up resource owners.
type UserStore interface {
	// GetUser retrieves a user by ID
	GetUser(ctx context.Context, userID string) (*User, error)

	// AuthenticateUser finds a user by username and verifies the password.
	// Unknown usernames and wrong passwords both yield ErrInvalidCredentials.
	AuthenticateUser(ctx context.Context, username, password string) (*User, error)
}

// AuthorizationCodeStore persists single-use authorization codes.
type AuthorizationCodeStore interface {
	// CreateAuthorizationCode persists a newly issued code
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves a code without consuming it
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically marks the code as used and returns it.
	// Of two concurrent callers for the same code at most one succeeds; the other
	// receives ErrAuthorizationCodeUsed together with the record.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RevokeAuthorizationCode removes a code
	RevokeAuthorizationCode(ctx context.Context, code string) error
}

// AccessTokenStore persists access tokens.
type AccessTokenStore interface {
	// CreateAccessToken persists a newly issued access token
	CreateAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token by its value
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// RevokeAccessToken marks an access token as revoked
	RevokeAccessToken(ctx context.Context, token string) error
}

// Adapter groups the capabilities every storage backend must provide.
type Adapter interface {
	ClientStore
	UserStore
	AuthorizationCodeStore
	AccessTokenStore
}

// RefreshTokenStore persists refresh tokens. Optional: when the adapter does
// not implement it no grant issues refresh tokens.
type RefreshTokenStore interface {
	// CreateRefreshToken persists a newly issued refresh token
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token by its value
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically revokes the token and returns it.
	// Of two concurrent callers at most one succeeds; the other receives
	// ErrTokenRevoked together with the record.
	ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RevokeRefreshToken marks a refresh token as revoked
	RevokeRefreshToken(ctx context.Context, token string) error
}

// ScopeValidator lets the adapter decide which of the requested scopes a client
// receives. Optional: without it requested scopes must be a subset of
// Client.Scopes and an empty request yields the client's scopes.
type ScopeValidator interface {
	CheckClientScope(ctx context.Context, client *Client, scopes []string) ([]string, error)
}

// AudienceResolver narrows scopes for RFC 8707 resource indicators. Optional:
// without it the requested scopes pass through and the audience is the list
// of requested resources.
type AudienceResolver interface {
	// GetAudienceScopes returns the subset of scopes that applies to the resources.
	// user is nil for client-only grants.
	GetAudienceScopes(ctx context.Context, resources, scopes []string, client *Client, user *User) ([]string, error)
}

// TokenFamilyRevoker revokes every token descended from the same grant.
// Optional: used when authorization code or refresh token replay is detected.
type TokenFamilyRevoker interface {
	// RevokeTokenFamily revokes all access and refresh tokens in the family and
	// returns how many were revoked.
	RevokeTokenFamily(ctx context.Context, familyID string) (int, error)
}

// AssertionReplayStore records JWT assertion identifiers. Optional: without
// it the engine cannot reject replayed assertions.
type AssertionReplayStore interface {
	// MarkAssertionUsed records jti until expiresAt. It returns
	// ErrAssertionReplayed if jti was recorded before for the same issuer.
	MarkAssertionUsed(ctx context.Context, issuer, jti string, expiresAt time.Time) error
}

// ClientAssertionKeyResolver returns the key used to verify a client's
// authentication assertion. Optional: without it only private_key_jwt with a
// registered JWKS is supported.
type ClientAssertionKeyResolver interface {
	ClientAssertionKey(ctx context.Context, client *Client, keyID, algorithm string) (any, error)
}

// JWTBearerKeyResolver returns the key of a trusted assertion issuer for the
// JWT bearer grant.
type JWTBearerKeyResolver interface {
	AssertionIssuerKey(ctx context.Context, issuer, keyID, algorithm string) (any, error)
}
