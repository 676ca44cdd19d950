// Package internal holds identifier and token generation shared by the
// session store and the password reset flow.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: login and refresh orchestration behind the Engine
//   - notify: password reset delivery over SMTP or the log
//   - rate: fixed-window counters over the shared cache
//   - respond: the JSON error and success envelope
//   - server: the chi router, handlers and health endpoints behind taskauthd
//   - stores: SQLite and Postgres credential stores plus migrations
package internal
