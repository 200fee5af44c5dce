// Package security derives the security posture report of a configured
// engine from plain inputs.
//
// # What this package must NOT do
//
//   - Import deskgate or read configuration structs directly.
//   - Perform I/O.
package security
