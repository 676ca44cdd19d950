// Package security is the request enforcement layer in front of the HTTP
// handlers.
//
// # Pipeline
//
// [Shield.Middleware] evaluates, in order, and stops at the first rejection:
//
//  1. Block check: a live lookup of the address against its stored expiry.
//  2. Tiered rate limit: strict, api or public fixed windows. Violations are
//     counted per address and enough of them block it automatically.
//  3. Progressive delay past a free allowance, capped, honoring cancellation.
//  4. Pattern scoring against [DefaultRules] plus header and user agent
//     heuristics. Scores at the ceiling are rejected; lower scores are logged.
//
// [SizeLimit] and [CSRF] are independent guards mounted alongside.
//
// # Shared state
//
// All state lives in [cache.Cache] under the configured prefixes, so any
// number of instances agree on blocks and counters. A cache fault never
// rejects a request; it is logged and the stage is skipped.
package security
