package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-core/storage"
)

// Default endpoint paths, relative to the issuer.
const (
	DefaultAuthorizationPath = "/oauth/authorize"
	DefaultTokenPath         = "/oauth/token"
	DefaultRevocationPath    = "/oauth/revoke"
	DefaultIntrospectionPath = "/oauth/introspect"
	DefaultErrorPagePath     = "/oauth/error"
)

// ConsentFunc decides whether user grants client the requested scopes.
// Returning false denies the request with access_denied.
type ConsentFunc func(ctx context.Context, client *storage.Client, user *storage.User, scopes []string) (bool, error)

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// AuthorizationEndpoint is the absolute URL of the authorization endpoint.
	// Default: Issuer + DefaultAuthorizationPath
	AuthorizationEndpoint string

	// TokenEndpoint is the absolute URL of the token endpoint. JWT assertions
	// must name it (or the issuer) in their audience.
	// Default: Issuer + DefaultTokenPath
	TokenEndpoint string

	// RevocationEndpoint is the absolute URL of the RFC 7009 endpoint.
	// Default: Issuer + DefaultRevocationPath
	RevocationEndpoint string

	// IntrospectionEndpoint is the absolute URL of the RFC 7662 endpoint.
	// Default: Issuer + DefaultIntrospectionPath
	IntrospectionEndpoint string

	// ErrorPageURL receives authorization errors that happen before the
	// client's redirect URI is trusted.
	// Default: Issuer + DefaultErrorPagePath
	ErrorPageURL string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// ClockSkewGracePeriod is tolerated between this server and assertion issuers
	ClockSkewGracePeriod int64 // seconds, default: 5

	// MaxAssertionLifetime bounds how far in the future a JWT assertion may expire
	MaxAssertionLifetime int64 // seconds, default: 3600

	// KeepAccessTokenOnRefresh leaves the access token issued together with a
	// refresh token valid after that refresh token is rotated.
	// Default: false (the old access token is revoked)
	KeepAccessTokenOnRefresh bool

	// DevelopmentMode exposes internal error descriptions in server_error
	// responses. Never enable in production.
	DevelopmentMode bool

	// AllowInsecureHTTP permits an http:// issuer on non-loopback hosts.
	AllowInsecureHTTP bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Default: 1
	TrustedProxyCount int

	// BasicAuthRealm is sent in WWW-Authenticate on failed HTTP Basic client authentication
	// Default: "oauth"
	BasicAuthRealm string

	// Consent is consulted after the user is known and before a grant authorizes.
	// Nil means consent is implied by an authenticated user.
	Consent ConsentFunc
}

// applySecureDefaults fills zero values with secure defaults
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyEndpointDefaults(config)
	applyTimeDefaults(config)

	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.BasicAuthRealm == "" {
		config.BasicAuthRealm = "oauth"
	}

	logSecurityWarnings(config, logger)
	return config
}

// applyEndpointDefaults derives endpoint URLs from the issuer
func applyEndpointDefaults(config *Config) {
	base := strings.TrimSuffix(config.Issuer, "/")
	if base == "" {
		return
	}
	if config.AuthorizationEndpoint == "" {
		config.AuthorizationEndpoint = base + DefaultAuthorizationPath
	}
	if config.TokenEndpoint == "" {
		config.TokenEndpoint = base + DefaultTokenPath
	}
	if config.RevocationEndpoint == "" {
		config.RevocationEndpoint = base + DefaultRevocationPath
	}
	if config.IntrospectionEndpoint == "" {
		config.IntrospectionEndpoint = base + DefaultIntrospectionPath
	}
	if config.ErrorPageURL == "" {
		config.ErrorPageURL = base + DefaultErrorPagePath
	}
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.MaxAssertionLifetime == 0 {
		config.MaxAssertionLifetime = 3600
	}
}

func (c *Config) authorizationCodeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

func (c *Config) accessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

func (c *Config) refreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

func (c *Config) clockSkew() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}

func (c *Config) maxAssertionLifetime() time.Duration {
	return time.Duration(c.MaxAssertionLifetime) * time.Second
}

// assertionAudiences lists the values accepted in a JWT assertion's aud claim.
func (c *Config) assertionAudiences() []string {
	var out []string
	if c.TokenEndpoint != "" {
		out = append(out, c.TokenEndpoint)
	}
	if c.Issuer != "" {
		out = append(out, c.Issuer)
	}
	return out
}
