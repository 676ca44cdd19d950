// Package cache defines the shared key-value store used for sessions, refresh
// pointers, abuse counters and block lists, together with a Redis adapter and an
// in-memory implementation for tests and single-instance deployments.
//
// # Failure model
//
// Every operation is advisory. Adapters wrap transport faults in [ErrUnavailable]
// so callers can fail open; a missing key is reported as [ErrMiss].
//
// # What this package must NOT do
//
//   - Interpret stored values (sessions, tokens, rules live in their own packages).
//   - Retry or hide timeouts; callers decide how to degrade.
package cache
