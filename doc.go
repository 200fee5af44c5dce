// Package deskgate turns partial, asynchronously collected proofs (password,
// CAPTCHA score, one-time passcode, e-mailed reset token, forced rotation)
// into an authenticated session or a classified rejection for a multi-tenant
// support portal.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build]. All mutable
// state (ban ledgers, passcodes, reset records, sessions) lives in Redis or the
// credential store; progress between round trips travels in signed tokens held by
// the client.
//
// # Architecture boundaries
//
// deskgate is the public surface. It exposes [Engine], [Builder], [Config], the error
// taxonomy ([Error], [Kind], [Classify]) and value types ([Request], [Result],
// [MetricsSnapshot]). Flow orchestration, ban ledgers, Redis records and audit dispatch
// live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Return an unclassified error from a credential exchange.
//   - Import any sub-package that re-imports deskgate (no import cycles).
package deskgate
