// Package middleware adapts goSession token validation to net/http.
//
// # Gate
//
// [Gate] reads the session cookie, validates it through the Engine and
// records the outcome in the request context. It never rejects a request:
// a missing or invalid token simply leaves the request unauthenticated.
// [RequireSession] is the separate check that protected routes mount.
//
// # What this package must NOT do
//
//   - Decide authorization beyond "has a live session".
//   - Access Redis directly (the Engine owns all I/O).
//   - Log raw tokens.
package middleware
