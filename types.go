package oauth

import "github.com/giantswarm/oauth2-core/server"

// Wire types of the endpoints, aliased so HTTP clients and tests can decode
// responses without importing the engine.
type (
	// AuthorizationServerMetadata is the RFC 8414 metadata document
	AuthorizationServerMetadata = server.AuthorizationServerMetadata

	// TokenResponse is the RFC 6749 section 5.1 token response
	TokenResponse = server.TokenResponse

	// ErrorResponse is the RFC 6749 section 5.2 error body
	ErrorResponse = server.ErrorResponse

	// IntrospectionResponse is the RFC 7662 section 2.2 response
	IntrospectionResponse = server.IntrospectionResponse
)
