// Package rate provides the fixed-window counters shared by the tiered request
// limiter, the slow-down governor and the per-key API ceiling.
//
// # Window semantics
//
// Fixed windows: the first hit starts the window and sets its expiry atomically
// with the increment, so concurrent hits from many instances can never skip the
// ceiling. Key prefixes are chosen by callers:
//   - rl:     tiered request limits
//   - slow:   progressive delay counters
//   - apikey: per-key hourly ceilings
//
// # What this package must NOT do
//
//   - Decide what happens on rejection (blocking, delay, audit live in callers).
//   - Be imported outside the taskauth module.
package rate
