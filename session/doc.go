// Package session provides cache-backed login sessions and the single active
// refresh-token pointer per principal.
//
// # Encoding
//
// Sessions are stored as versioned JSON records (`session:<id>`) with a TTL and
// indexed per user (`session:user:<userId>`) so logout can revoke every session.
// Refresh pointers (`refresh_token:<userId>`) hold the SHA-256 of the active
// refresh token and are swapped with a compare-and-swap.
//
// # Architecture boundaries
//
// This package owns [Store], [RefreshStore] and the [Session] model. It does NOT
// parse JWTs, evaluate permissions, or decide how to degrade when the cache is
// down; those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import taskauth, jwt, or permission (no upward imports).
//   - Store plaintext refresh tokens.
package session
