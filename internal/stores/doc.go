// Package stores provides Redis-backed, short-lived records for the
// credential flows: one-time passcodes and password-reset tokens.
//
// # Design
//
// Passcodes live in a Redis hash validated by a Lua script so compare,
// attempt increment and delete happen in one round trip. Reset records are
// versioned binary blobs mutated under WATCH/MULTI with retry on
// contention. Both store digests, never the plaintext secret, and both are
// single-use.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate codes, enforce ban ledgers, or make
// authentication decisions; those belong to otp and internal/flows.
//
// # What this package must NOT do
//
//   - Import deskgate or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching in Go code.
package stores
