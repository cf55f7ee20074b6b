package oauth

import (
	"net/http"

	"github.com/giantswarm/oauth2-core/storage"
)

const (
	defaultCORSMaxAge   = 3600    // 1 hour default for preflight cache
	defaultMaxFormBytes = 1 << 20 // request bodies larger than this are rejected
	defaultBearerRealm  = "oauth"
)

// UserResolver returns the authenticated resource owner of an authorization
// request, or nil when nobody is logged in. The engine then answers with
// access_denied, so a resolver that wants to show a login page writes it to
// w and returns (nil, ErrLoginRequired).
type UserResolver func(w http.ResponseWriter, r *http.Request) (*storage.User, error)

// Config holds the HTTP adapter configuration. Protocol settings live in
// server.Config.
type Config struct {
	// UserResolver authenticates the resource owner at the authorization endpoint.
	// Default: UserFromContext
	UserResolver UserResolver

	// CORS settings for browser-based clients
	CORS CORSConfig

	// MaxFormBytes limits the size of form encoded request bodies
	// Default: 1 MiB
	MaxFormBytes int64

	// BearerRealm is sent in WWW-Authenticate by ValidateToken
	// Default: "oauth"
	BearerRealm string
}

// CORSConfig holds CORS (Cross-Origin Resource Sharing) configuration
type CORSConfig struct {
	// AllowedOrigins is the list of allowed origins. "*" allows every origin
	// and should only be used in development.
	// Empty disables CORS headers entirely.
	AllowedOrigins []string

	// AllowCredentials sets Access-Control-Allow-Credentials
	AllowCredentials bool

	// MaxAge is how long browsers may cache preflight responses, in seconds
	// Default: 3600
	MaxAge int
}

func applyHandlerDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	c := *config
	if c.UserResolver == nil {
		c.UserResolver = func(_ http.ResponseWriter, r *http.Request) (*storage.User, error) {
			user, _ := UserFromContext(r.Context())
			return user, nil
		}
	}
	if c.MaxFormBytes <= 0 {
		c.MaxFormBytes = defaultMaxFormBytes
	}
	if c.BearerRealm == "" {
		c.BearerRealm = defaultBearerRealm
	}
	if c.CORS.MaxAge <= 0 {
		c.CORS.MaxAge = defaultCORSMaxAge
	}
	return &c
}
