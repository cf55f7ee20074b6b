// Package valkey provides a Valkey storage backend for the authorization server.
//
// Valkey is a high-performance key-value store that is wire-compatible with Redis.
// This package is suitable for production deployments that require:
//
//   - Distributed storage for horizontal scaling
//   - Persistence across server restarts
//   - Automatic TTL-based expiration
//
// # Implemented Interfaces
//
//   - [storage.Adapter]: clients, users, authorization codes and access tokens
//   - [storage.RefreshTokenStore]: refresh tokens with atomic rotation
//   - [storage.TokenFamilyRevoker]: revocation of every token issued under one grant
//   - [storage.AssertionReplayStore]: JWT assertion replay detection
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:"). Codes and tokens are
// keyed by the SHA-256 digest of their value:
//
//	{prefix}client:{clientID}              -> JSON(Client)
//	{prefix}user:{userID}                  -> JSON(User)
//	{prefix}username:{username}            -> userID
//	{prefix}code:{sha256(code)}            -> HASH{data, used}     (TTL until expiry)
//	{prefix}token:access:{sha256(token)}   -> HASH{data, revoked}  (TTL until expiry)
//	{prefix}token:refresh:{sha256(token)}  -> HASH{data, revoked}  (TTL until expiry)
//	{prefix}family:{familyID}              -> SET of token keys
//	{prefix}jti:{sha256(issuer, jti)}      -> "1"                  (TTL until assertion expiry)
//
// # Atomic Operations
//
// Consuming an authorization code or a refresh token runs a Lua script that
// checks and sets the record's flag in one step, so of two concurrent
// requests only one succeeds. The loser receives the record together with
// storage.ErrAuthorizationCodeUsed or storage.ErrTokenRevoked, which lets the
// server revoke the whole token family.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "valkey.example.com:6379",
//	    Password:  os.Getenv("VALKEY_PASSWORD"),
//	    TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
//	    KeyPrefix: "oauth:",
//	})
//
// # Encryption at Rest
//
// Code and token records can be sealed with AES-256-GCM:
//
//	key, _ := security.GenerateKey()
//	encryptor, _ := security.NewEncryptor(key)
//	store.SetEncryptor(encryptor)
package valkey
