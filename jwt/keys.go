package jwt

import (
	"crypto/ed25519"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// parseEdPrivateKey accepts a raw 64-byte key or a PKCS#8 PEM block.
func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 signing key: %v", ErrInvalidConfig, err)
	}
	if k, ok := parsed.(ed25519.PrivateKey); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: signing key is %T, not ed25519", ErrInvalidConfig, parsed)
}

// parseEdPublicKey accepts a raw 32-byte key or a PKIX PEM block. Used for
// the verification keys of rotated-out signers.
func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 verification key: %v", ErrInvalidConfig, err)
	}
	if k, ok := parsed.(ed25519.PublicKey); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: verification key is %T, not ed25519", ErrInvalidConfig, parsed)
}
