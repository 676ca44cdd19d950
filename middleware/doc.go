// Package middleware adapts the Engine and the API key service to net/http.
//
// # Gates
//
//   - [Guard]: bearer access token, live session, active unlocked principal.
//   - [RequirePermission], [RequireRole]: role checks after Guard.
//   - [APIKey]: x-api-key validation with exempt prefixes and a per-key
//     hourly ceiling; [RequireScope] checks key permissions.
//
// [ClientContext] and [Logger] are request plumbing. [WriteError] renders any
// Engine error in the standard body with the mapped status.
//
// # What this package must NOT do
//
//   - Parse or create tokens (delegates to Engine).
//   - Decide credential outcomes beyond pass or reject.
package middleware
