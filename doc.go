// Package goSession is an authentication core built on opaque, server-side
// session tokens. It covers credential login guarded by rate limiting and
// account lockout, token validation with sliding and absolute expiry,
// logout and logout-everywhere, and OAuth2 authorization-code login with
// single-use state.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config],
// the [PrincipalRepository] contract, and the error taxonomy ([AuthError]
// and its sentinels). Redis layout lives in token, oauthstate and
// internal/rate; the lockout state machine lives in internal/lockout.
//
// # Failure policy
//
// Token validation fails closed: a cache failure is
// ErrInfrastructureUnavailable, never a valid session. Login rate limiting
// fails open: a cache failure lets the attempt through, is logged, and is
// counted as MetricRateLimitDegraded. Lockout counters live in the durable
// principal store, so they survive cache loss.
//
// # What this package must NOT do
//
//   - Expose Redis clients or key layout in its public API.
//   - Log credentials or raw tokens.
//   - Import middleware, httpapi or principal (no import cycles).
package goSession
