package storage

import (
	"slices"
	"time"

	"github.com/giantswarm/oauth2-core/internal/util"
)

// DefaultCodeChallengeMethod is assumed when an authorization request omits
// code_challenge_method.
const DefaultCodeChallengeMethod = "plain"

// Client represents a registered OAuth client
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash, empty for public clients
	ClientName              string
	RedirectURIs            []string
	Scopes                  []string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	JWKS                    string // JSON Web Key Set used for private_key_jwt
	CreatedAt               time.Time
}

// IsPublic reports whether the client has no credentials of its own.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == "none"
}

// CheckRedirectURI reports whether uri is registered for the client.
// Comparison is exact string matching.
func (c *Client) CheckRedirectURI(uri string) bool {
	return uri != "" && slices.Contains(c.RedirectURIs, uri)
}

// CheckGrantType reports whether the client may use grantType at the token endpoint.
func (c *Client) CheckGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// CheckResponseType reports whether the client may use responseType at the
// authorization endpoint. Component order does not matter.
func (c *Client) CheckResponseType(responseType string) bool {
	want := util.NormalizeList(responseType)
	if want == "" {
		return false
	}
	for _, rt := range c.ResponseTypes {
		if util.NormalizeList(rt) == want {
			return true
		}
	}
	return false
}

// CheckAuthenticationMethod reports whether the client is registered for method.
func (c *Client) CheckAuthenticationMethod(method string) bool {
	return c.TokenEndpointAuthMethod == method
}

// CheckScopes reports whether every scope is allowed for the client.
func (c *Client) CheckScopes(scopes []string) bool {
	return util.IsSubset(scopes, c.Scopes)
}

// User represents a resource owner.
type User struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash
	CreatedAt    time.Time
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	Audience            []string
	CodeChallenge       string
	CodeChallengeMethod string
	FamilyID            string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// IsExpired reports whether the code can no longer be exchanged at now.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Token holds the attributes shared by access and refresh tokens.
type Token struct {
	ID         string // the opaque bearer value
	ClientID   string
	UserID     string // empty for client-only grants
	Scopes     []string
	Audience   []string
	GrantType  string
	FamilyID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ValidAfter time.Time
	Revoked    bool
}

// IsActive reports whether the token is usable at now: not revoked, not yet
// expired and already valid.
func (t *Token) IsActive(now time.Time) bool {
	if t.Revoked {
		return false
	}
	if !now.Before(t.ExpiresAt) {
		return false
	}
	return !now.Before(t.ValidAfter)
}

// AccessToken is a bearer credential presented to resource servers.
type AccessToken struct {
	Token
}

// RefreshToken is a credential exchanged for a new token pair. It references
// the access token it was issued together with.
type RefreshToken struct {
	Token
	AccessTokenID string
}
