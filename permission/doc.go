// Package permission makes default-deny role-based authorization decisions
// against a policy set that can be replaced at runtime.
//
// # Compilation
//
// A [PolicySet] is compiled into an immutable snapshot: every distinct
// resource:action pair gets a bit in a [Registry], and every role gets a
// [Mask] of the smallest width (64, 128, 256 or 512 bits) that holds them all.
//
// # Hot reload
//
// [Engine] publishes snapshots through an atomic pointer. [Engine.Check]
// performs one pointer load and then reads only frozen data, so it never
// waits on [Engine.Reload], and a reload never waits on checks.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or credential.
//   - Mutate a snapshot after it has been published.
package permission
