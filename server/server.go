package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/jose"
	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/storage"
)

// Server is the OAuth 2.0 authorization server engine. It turns framework
// neutral Requests into Responses using the registered client authentication
// methods, grants, response modes and PKCE methods. All mutable state lives
// in the storage adapter.
type Server struct {
	store   storage.Adapter
	refresh storage.RefreshTokenStore // nil when the adapter cannot store refresh tokens

	Auditor                  *security.Auditor
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Instrumentation          *instrumentation.Instrumentation
	Logger                   *slog.Logger
	Config                   *Config

	verifier jose.Verifier
	tokens   *TokenIssuer
	tracer   trace.Tracer
	metrics  *instrumentation.Metrics

	clientAuthMethods ClientAuthenticationMethods
	grants            Grants
	responseModes     ResponseModes
	pkceMethods       PKCEMethods

	now func() time.Time
}

// New creates a new OAuth server with the built-in registries.
func New(store storage.Adapter, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("storage adapter is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Server{
		store:    store,
		Config:   config,
		Logger:   logger,
		verifier: jose.New(),
		tracer:   noop.NewTracerProvider().Tracer(""),
		now:      time.Now,
	}
	if rs, ok := store.(storage.RefreshTokenStore); ok {
		s.refresh = rs
	}

	s.tokens = &TokenIssuer{
		access:     store,
		refresh:    s.refresh,
		accessTTL:  config.accessTokenTTL(),
		refreshTTL: config.refreshTokenTTL(),
		now:        func() time.Time { return s.now() },
		generate:   generateRandomToken,
	}

	s.pkceMethods = DefaultPKCEMethods()
	s.responseModes = DefaultResponseModes()
	s.clientAuthMethods = s.defaultClientAuthenticationMethods()
	s.grants = s.defaultGrants()

	return s, nil
}

// defaultGrants returns the built-in grants. The refresh token grant is only
// registered when the adapter can store refresh tokens.
func (s *Server) defaultGrants() Grants {
	grants := Grants{
		NewAuthorizationCodeGrant(s),
		NewImplicitGrant(s),
		NewClientCredentialsGrant(s),
		NewPasswordGrant(s),
	}
	if s.refresh != nil {
		grants = append(grants, NewRefreshTokenGrant(s))
	}
	return append(grants, NewJWTBearerGrant(s))
}

// defaultClientAuthenticationMethods returns the built-in methods in the
// order they are tried.
func (s *Server) defaultClientAuthenticationMethods() ClientAuthenticationMethods {
	replay, _ := s.store.(storage.AssertionReplayStore)
	keys, _ := s.store.(storage.ClientAssertionKeyResolver)

	assertion := func(name string, algorithms []string) *ClientAssertion {
		return &ClientAssertion{
			Method:      name,
			Algorithms:  algorithms,
			Clients:     s.store,
			Verifier:    s.verifier,
			Keys:        keys,
			Replay:      replay,
			Audiences:   s.Config.assertionAudiences(),
			ClockSkew:   s.Config.clockSkew(),
			MaxLifetime: s.Config.maxAssertionLifetime(),
			Now:         func() time.Time { return s.now() },
		}
	}

	return ClientAuthenticationMethods{
		&ClientSecretBasic{Clients: s.store, Realm: s.Config.BasicAuthRealm},
		&ClientSecretPost{Clients: s.store},
		assertion(AuthMethodPrivateKeyJWT, jose.AsymmetricAlgorithms),
		assertion(AuthMethodClientSecretJWT, jose.SymmetricAlgorithms),
		&NoneAuthentication{Clients: s.store},
	}
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	if aud != nil && s.metrics != nil {
		aud.SetMetrics(s.metrics)
	}
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents log flooding from repeated replay or authentication failures
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation enables tracing and metrics for the engine
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.tracer = noop.NewTracerProvider().Tracer("")
		s.metrics = nil
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
	if s.Auditor != nil {
		s.Auditor.SetMetrics(s.metrics)
	}
}

// SetVerifier replaces the JWT collaborator used for assertions.
func (s *Server) SetVerifier(v jose.Verifier) {
	if v == nil {
		return
	}
	s.verifier = v
	for _, m := range s.clientAuthMethods {
		if ca, ok := m.(*ClientAssertion); ok {
			ca.Verifier = v
		}
	}
}

// Verifier returns the JWT collaborator.
func (s *Server) Verifier() jose.Verifier {
	return s.verifier
}

// Store returns the storage adapter.
func (s *Server) Store() storage.Adapter {
	return s.store
}

// TokenIssuer returns the issuer shared by every token-issuing grant.
func (s *Server) TokenIssuer() *TokenIssuer {
	return s.tokens
}

// RegisterGrant adds g to the grant registry, replacing a grant with the same name.
func (s *Server) RegisterGrant(g Grant) {
	s.grants = s.grants.replace(g)
}

// SetGrants replaces the grant registry.
func (s *Server) SetGrants(grants ...Grant) {
	s.grants = Grants(grants)
}

// Grants returns the grant registry.
func (s *Server) Grants() Grants {
	return s.grants
}

// RegisterClientAuthenticationMethod appends m, replacing a method with the same name.
func (s *Server) RegisterClientAuthenticationMethod(m ClientAuthenticationMethod) {
	s.clientAuthMethods = s.clientAuthMethods.replace(m)
}

// SetClientAuthenticationMethods replaces the client authentication registry.
func (s *Server) SetClientAuthenticationMethods(methods ...ClientAuthenticationMethod) {
	s.clientAuthMethods = ClientAuthenticationMethods(methods)
}

// RegisterResponseMode adds m, replacing a mode with the same name.
func (s *Server) RegisterResponseMode(m ResponseMode) {
	for i, existing := range s.responseModes {
		if existing.Name() == m.Name() {
			s.responseModes[i] = m
			return
		}
	}
	s.responseModes = append(s.responseModes, m)
}

// SetPKCEMethods replaces the PKCE method registry.
func (s *Server) SetPKCEMethods(methods ...PKCEMethod) {
	s.pkceMethods = PKCEMethods(methods)
}

// RegisterPKCEMethod adds m, replacing a method with the same name.
func (s *Server) RegisterPKCEMethod(m PKCEMethod) {
	for i, existing := range s.pkceMethods {
		if existing.Name() == m.Name() {
			s.pkceMethods[i] = m
			return
		}
	}
	s.pkceMethods = append(s.pkceMethods, m)
}

// allowSecurityLog reports whether a security event for key may be logged.
func (s *Server) allowSecurityLog(ctx context.Context, key string) bool {
	if s.SecurityEventRateLimiter == nil {
		return true
	}
	if s.SecurityEventRateLimiter.Allow(key) {
		return true
	}
	s.metrics.RecordRateLimitExceeded(ctx, "security_events")
	return false
}

// generateRandomToken returns a URL-safe random value with 256 bits of entropy.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
