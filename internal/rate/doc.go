// Package rate provides Redis-backed fixed-window attempt limiting for the
// login path.
//
// # Window semantics
//
// One INCR per attempt. The first hit in a window sets the window TTL and
// later hits never extend it, so a key always resets Window after its first
// attempt. Key prefixes:
//   - arl:ip:   login attempts per client IP
//   - arl:acct: login attempts per normalized identifier
//
// # Failure mode
//
// A cache failure fails open: [Limiter.TryAcquire] returns an allowed
// [Decision] with Degraded set together with a wrapped [ErrCacheUnavailable].
// Callers log the error and continue.
//
// # What this package must NOT do
//
//   - Decide lockout. Account lockout lives in the durable principal store.
//   - Be imported outside the goSession module.
package rate
