// Package testutil provides testing utilities and fixtures for the
// authorization server packages. It includes helpers for creating clients,
// codes and tokens, PKCE pairs, signing keys and JWT assertions, plus a mock
// time provider for deterministic testing.
package testutil
