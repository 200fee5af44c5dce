// Package flows contains the credential-exchange state machines behind the
// Engine: sign-in, password reset and the session operations.
//
// Each Run function takes a typed dependency struct and a request, consults
// the leaves it is given, and returns either an Outcome or an error taken
// from the host's Errors set. Anything else it returns is unclassified and
// the host collapses it to an internal error.
//
// # Architecture boundaries
//
// Flows coordinate the ban ledgers, OTP service, CAPTCHA verifier, progress
// codec, credential store and session issuer. They do NOT own any of these
// resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import deskgate (to avoid import cycles).
//   - Perform network I/O except through dependency interfaces.
package flows
