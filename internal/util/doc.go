// Package util provides small helpers shared by the engine and the storage
// adapters: truncation of secrets for logging and the handling of
// space-delimited parameter lists such as scope and response_type.
package util
