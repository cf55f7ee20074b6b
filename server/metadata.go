package server

// AuthorizationServerMetadata is the RFC 8414 metadata document.
type AuthorizationServerMetadata struct {
	Issuer                                     string   `json:"issuer"`
	AuthorizationEndpoint                      string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                              string   `json:"token_endpoint"`
	RevocationEndpoint                         string   `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint                      string   `json:"introspection_endpoint,omitempty"`
	ResponseTypesSupported                     []string `json:"response_types_supported"`
	ResponseModesSupported                     []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported                        []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported          []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	TokenEndpointAuthSigningAlgValuesSupported []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	RevocationEndpointAuthMethodsSupported     []string `json:"revocation_endpoint_auth_methods_supported,omitempty"`
	IntrospectionEndpointAuthMethodsSupported  []string `json:"introspection_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported              []string `json:"code_challenge_methods_supported,omitempty"`
}

// Metadata describes the server from its configuration and registries.
func (s *Server) Metadata() *AuthorizationServerMetadata {
	authMethods := s.clientAuthMethods.Names()

	var signingAlgs []string
	for _, m := range s.clientAuthMethods {
		if ca, ok := m.(*ClientAssertion); ok {
			signingAlgs = append(signingAlgs, ca.Algorithms...)
		}
	}

	return &AuthorizationServerMetadata{
		Issuer:                                     s.Config.Issuer,
		AuthorizationEndpoint:                      s.Config.AuthorizationEndpoint,
		TokenEndpoint:                              s.Config.TokenEndpoint,
		RevocationEndpoint:                         s.Config.RevocationEndpoint,
		IntrospectionEndpoint:                      s.Config.IntrospectionEndpoint,
		ResponseTypesSupported:                     s.grants.ResponseTypes(),
		ResponseModesSupported:                     s.responseModes.Names(),
		GrantTypesSupported:                        s.grants.GrantTypes(),
		TokenEndpointAuthMethodsSupported:          authMethods,
		TokenEndpointAuthSigningAlgValuesSupported: signingAlgs,
		RevocationEndpointAuthMethodsSupported:     authMethods,
		IntrospectionEndpointAuthMethodsSupported:  authMethods,
		CodeChallengeMethodsSupported:              s.pkceMethods.Names(),
	}
}
