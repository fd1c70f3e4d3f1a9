// Package audit delivers security events to a pluggable [Sink].
//
// The [Dispatcher] decouples request paths from sink latency with a bounded
// channel and a single worker goroutine. Callers choose whether a full
// buffer drops events (counted by [Dispatcher.Dropped]) or applies
// backpressure to the emitting request.
//
// Which events are emitted, and with what fields, is decided by the caller.
// This package only buffers and forwards them.
package audit
