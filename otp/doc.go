// Package otp owns the one-time passcode lifecycle: mint a short numeric
// code for an actor identity, keep exactly one live code per identity, and
// validate a supplied code at most once.
//
// Delivery is not performed here. Callers pass the returned code to a
// delivery sender of their choice.
package otp
