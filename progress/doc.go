// Package progress carries partial verification progress between
// stateless round trips.
//
// Each satisfied step gets its own small HS256 token, transported as its
// own cookie. Every (flow, step) pair signs with a key derived from the
// master secret through HKDF-SHA256, so a client able to mint one claim
// learns nothing that forges another. A token is bound to the subject
// (lower-cased identifier) it was issued for.
//
// Decoding is all-or-nothing: if any presented token fails signature,
// expiry, step or subject checks, the whole set decodes to zero claims.
package progress
