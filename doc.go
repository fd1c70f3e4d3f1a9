// Package authcore provides credential issuance and verification for
// server workloads: signed short-lived access tokens, rotating opaque
// refresh tokens with reuse detection, single-use challenge codes for
// password reset and subscription activation, and a role-based permission
// gate.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and the service types [TokenService], [ChallengeService] and [Gate].
// Persistence lives in the credential package behind [credential.Store];
// the permission package compiles policy sets into bitmasks; token
// encoding and audit dispatch live under internal/.
//
// # Failure model
//
// Every failure maps to one [ErrorKind]. Only [ErrStoreUnavailable] is
// retryable, and the engine never treats an unreachable store as success.
//
// # Performance contract
//
// Access verification never touches the store. Authenticate performs one
// user lookup; Refresh performs one atomic store operation.
package authcore
