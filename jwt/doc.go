// Package jwt mints and verifies session tokens: signed claims carrying
// user, tenant, names, roles, permissions, an absolute expiry and a sliding
// refresh watermark. Tokens are never mutated; a refresh mints a new one.
package jwt
