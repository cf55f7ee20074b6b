// Package jose is the sign/verify collaborator used by the authorization
// server for JWT client assertions (RFC 7523 section 2.2) and the JWT bearer
// grant (RFC 7523 section 2.1).
//
// It only decodes and checks signatures. Validation of the claims (issuer,
// subject, audience, expiry, jti) belongs to the caller.
//
// JWT parsing and signing use github.com/golang-jwt/jwt/v5. JSON Web Key Sets
// are parsed with github.com/go-jose/go-jose/v4.
package jose
