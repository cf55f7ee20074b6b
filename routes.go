package oauth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/giantswarm/oauth2-core/security"
	"github.com/giantswarm/oauth2-core/server"
)

// MetadataWellKnownPath is the RFC 8414 well-known URI suffix
const MetadataWellKnownPath = "/.well-known/oauth-authorization-server"

// MetadataPath returns where the metadata document is served for issuer.
// RFC 8414 section 3 inserts the well-known suffix before any issuer path.
func MetadataPath(issuer string) string {
	u, err := url.Parse(issuer)
	if err != nil {
		return MetadataWellKnownPath
	}
	return MetadataWellKnownPath + strings.TrimSuffix(u.Path, "/")
}

// endpointPath returns the path component of an endpoint URL, or fallback
// when the URL has none.
func endpointPath(endpoint, fallback string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Path == "" {
		return fallback
	}
	return u.Path
}

// RegisterRoutes mounts every endpoint on r at the paths of the configured
// endpoint URLs. Each handler enforces its own methods, so the routes match
// any method.
func (h *Handler) RegisterRoutes(r chi.Router) {
	cfg := h.server.Config

	r.HandleFunc(MetadataPath(cfg.Issuer), h.ServeAuthorizationServerMetadata)
	r.HandleFunc(endpointPath(cfg.AuthorizationEndpoint, server.DefaultAuthorizationPath), h.ServeAuthorization)
	r.HandleFunc(endpointPath(cfg.TokenEndpoint, server.DefaultTokenPath), h.ServeToken)
	r.HandleFunc(endpointPath(cfg.RevocationEndpoint, server.DefaultRevocationPath), h.ServeTokenRevocation)
	r.HandleFunc(endpointPath(cfg.IntrospectionEndpoint, server.DefaultIntrospectionPath), h.ServeTokenIntrospection)

	// Only serve the built-in error page when it lives on this server
	if strings.HasPrefix(cfg.ErrorPageURL, strings.TrimSuffix(cfg.Issuer, "/")+"/") {
		r.HandleFunc(endpointPath(cfg.ErrorPageURL, server.DefaultErrorPagePath), h.ServeErrorPage)
	}
}

// Routes returns a router serving every endpoint, with request IDs and
// panic recovery.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	h.RegisterRoutes(r)
	return r
}
