// Package rate provides the Redis primitive behind every ban ledger:
// an atomic fixed-window attempt counter that arms a ban key once a
// ceiling is reached.
//
// # Key layout
//
//   - dgb:{scope}:{actor}: attempt counter
//   - dgbn:{scope}:{actor}: ban marker, TTL is the ban window
//
// # What this package must NOT do
//
//   - Decide what a ban means for a flow (that lives in internal/limiters
//     and internal/flows).
//   - Be imported outside the deskgate module.
package rate
