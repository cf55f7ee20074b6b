// Package storage defines the protocol entities and the adapter interfaces the
// authorization server engine uses to persist and look up clients, users,
// authorization codes and tokens.
//
// The engine treats the adapter as the only authority for mutable state.
// Required capabilities are grouped in Adapter; optional capabilities
// (refresh tokens, audience resolution, family revocation, assertion replay
// protection, assertion key resolution) are discovered with type assertions.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/sqlite: SQLite storage for single-node deployments
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
//   - storage/mock: Mock storage for unit testing
package storage
