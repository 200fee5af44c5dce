// Package limiters provides the ban ledgers built on top of the
// internal/rate primitive.
//
// # Ledgers
//
//   - [NewOTPIssueLedger]: passcode issuance, 3 per ban window by default.
//   - [NewOTPVerifyLedger]: failed passcode validations, 3 by default.
//   - [NewResetIssueLedger]: reset initiations, 5 by default.
//   - [NewResetVerifyLedger]: rejected reset tokens, 5 by default.
//   - [NewSignInLedger]: failed password checks, 5 by default.
//
// The default ban window is 300s. All ledgers are nil-safe: a nil [Ledger]
// never bans.
//
// # What this package must NOT do
//
//   - Import deskgate or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
