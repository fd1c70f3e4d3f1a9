// Package internal contains helpers that are private to authcore: refresh
// secret encoding, one-time code generation and the async audit dispatcher.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - logging: zap logger construction from AUTHCORE_LOG_* variables
//   - userdir: YAML-seeded in-memory account directory
//   - httpapi: JSON/HTTP surface used by cmd/authcore-server
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
