// Package session keeps the Redis allow-list of live sessions.
//
// A session token is only accepted while its record exists here, which is
// how sign-out, sign-out-all and refresh rotation revoke tokens that are
// otherwise valid until expiry.
//
// # What this package must NOT do
//
//   - Import deskgate or jwt (no upward imports).
//   - Interpret token claims or make authorization decisions.
package session
