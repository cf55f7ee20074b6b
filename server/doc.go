// Package server implements the OAuth 2.0 authorization server engine.
//
// The engine turns framework-neutral Requests into Responses. It performs
// client authentication, dispatches to registered grants and returns
// authorization codes, tokens or protocol errors. All mutable state lives
// behind the storage.Adapter; the engine holds none between requests.
//
// Four ordered registries drive dispatch:
//   - ClientAuthenticationMethods: client_secret_basic, client_secret_post,
//     private_key_jwt, client_secret_jwt, none
//   - Grants: authorization code (PKCE required), implicit, client
//     credentials, password, refresh token (rotated on every use) and
//     JWT bearer
//   - ResponseModes: query, fragment, form_post
//   - PKCEMethods: S256, plain
//
// Example usage:
//
//	store := memory.New()
//	srv, err := server.New(store, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp := srv.HandleTokenRequest(ctx, &server.Request{
//	    Method: http.MethodPost,
//	    Header: r.Header,
//	    Form:   r.PostForm,
//	})
//
// The root oauth package adapts these handlers to net/http.
package server
