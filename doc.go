// Package taskauth is the authentication and session engine of the task
// service: registration, credential login with per-principal lockout, JWT
// access tokens gated on live cache-backed sessions, a single rotating refresh
// chain per principal, and password reset and change.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// taskauth is the public surface. It exposes [Engine], [Builder], [Config], the
// [CredentialStore] contract and value types. Flow orchestration, audit
// dispatch and token helpers live under internal/.
//
// # Failure model
//
// The [CredentialStore] is the authority for identity and lockout: its faults
// fail closed with [ErrStoreUnavailable]. The cache is advisory: session checks
// and bookkeeping fail open and are logged. Refresh rotation is the exception
// and fails with [ErrCacheUnavailable], since the refresh chain lives only in
// the cache.
package taskauth
