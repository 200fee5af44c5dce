// Package credstore holds the SQL-backed credential store adapters.
//
// Subpackages postgres and sqlite implement identity.Store over the same
// logical schema: tenant-scoped users, roles, user_roles and
// role_permissions. Each embeds its own migrations and applies them with
// golang-migrate. Lookups are case-insensitive on username and e-mail.
package credstore
