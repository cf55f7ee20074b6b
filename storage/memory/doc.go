// Package memory provides an in-memory implementation of the storage interfaces.
//
// Store implements storage.Adapter together with every optional capability:
// refresh tokens, token family revocation, assertion replay detection,
// audience scopes and assertion key resolution. Records live in maps guarded
// by a sync.RWMutex and single-use consumption happens under the write lock.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic authorization code and refresh token consumption
//   - Automatic cleanup of expired codes, tokens and assertion identifiers
//   - bcrypt hashed client secrets and user passwords
//   - OpenTelemetry spans, operation metrics and storage size gauges
//
// For multi-instance deployments use the storage/valkey or storage/sqlite
// packages instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	_ = store.SaveClient(ctx, client, "secret")
//	srv, _ := server.New(store, config, logger)
package memory
