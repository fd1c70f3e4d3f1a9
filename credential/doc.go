// Package credential persists refresh-token state and one-time challenge state.
//
// # Records
//
// A [RefreshRecord] holds the hash of the single active refresh secret of an owner.
// A [ChallengeRecord] holds the hash of a one-time code for an (owner, type) pair.
// Plaintext secrets and codes never reach this package.
//
// # Backends
//
//   - [RedisStore]: Redis hashes mutated by Lua scripts (single-writer-wins).
//   - [PostgresStore]: database/sql over the pgx driver, schema via goose.
//   - [MemoryStore]: mutex-guarded maps for tests and single-process use.
//
// # Architecture boundaries
//
// This package is a pure storage contract. It does NOT decide whether a hash
// mismatch is a replay, whether a code is correct, or what to tell a caller;
// those decisions belong to the services in the root package.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or permission (no upward imports).
//   - Store plaintext refresh secrets or challenge codes.
//   - Spawn background goroutines (expiry sweeps are driven by the caller).
package credential
