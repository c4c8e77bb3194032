// Package token provides Redis-backed opaque session tokens with sliding
// expiry capped by an absolute lifetime.
//
// # Storage layout
//
// A token is 32 random bytes encoded as unpadded base64url. Redis never sees
// the token itself: entries are keyed by the SHA-256 of the raw bytes, and
// every principal has an index set of the hashes it currently owns so that
// all of its tokens can be revoked in one atomic step.
//
// Entries use a compact binary layout (see [Entry]) that the validation Lua
// script can parse without a round trip back to Go.
//
// # Architecture boundaries
//
// This package owns the [Store] and the entry encoding. It does not know
// about credentials, lockout, or HTTP; those belong to the Engine.
//
// # What this package must NOT do
//
//   - Import goSession (no upward imports).
//   - Store or log raw token values.
//   - Treat a cache failure as a valid token.
package token
