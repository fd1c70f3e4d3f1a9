// Package middleware adapts [authcore.Gate] decisions to net/http and gRPC.
//
// # Guards
//
//   - [Guard] authenticates the bearer credential and attaches the identity.
//   - [Require] additionally checks one permission against the active policy.
//   - [UnaryServerInterceptor] does the same for unary gRPC calls, with
//     per-method permissions and an explicit list of public methods.
//
// Handlers read the principal back with [authcore.IdentityFromContext].
//
// This package only translates transport semantics. Every decision is made
// by the gate; errors map to 401/403/503 over HTTP and to
// Unauthenticated/PermissionDenied/Unavailable over gRPC.
package middleware
