// Package permission provides the permission registry, the fixed role table and
// wildcard grant matching used by both user and API-key authorization.
//
// # Grants
//
// A grant is `resource:action`, `resource:*` or the universal `*`. Role
// permissions are bare action names (read, create, manage_users, ...).
//
// # What this package must NOT do
//
//   - Access the cache, databases, or the network.
//   - Import taskauth, jwt, or session.
package permission
