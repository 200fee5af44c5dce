// Package resetlink seals the password-reset token that is e-mailed to the
// user. The sealed form binds the secret to the user and address it was
// issued for; only its SHA-256 is persisted server-side.
package resetlink

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	version    = 1
	secretSize = 32
)

var (
	// ErrMalformed covers undecodable, forged, and tampered tokens.
	ErrMalformed = errors.New("reset token malformed")
	// ErrExpired means the token decrypted but is past its expiry.
	ErrExpired = errors.New("reset token expired")
)

// Payload is what a reset token carries.
type Payload struct {
	UserID    int64
	TenantID  string
	Email     string
	Secret    [secretSize]byte
	ExpiresAt time.Time
}

// Hash is the value persisted for a payload's secret.
func (p Payload) Hash() [32]byte {
	return sha256.Sum256(p.Secret[:])
}

// Sealer seals and opens reset tokens with XChaCha20-Poly1305.
type Sealer struct {
	key []byte
	now func() time.Time
}

// NewSealer derives the AEAD key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < 32 {
		return nil, errors.New("reset link secret must be at least 32 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte("deskgate reset link v1"))
	if _, err := r.Read(key); err != nil {
		return nil, err
	}
	return &Sealer{key: key, now: time.Now}, nil
}

// NewPayload draws a fresh secret for the user.
func (s *Sealer) NewPayload(tenantID string, userID int64, email string, ttl time.Duration) (Payload, error) {
	p := Payload{
		UserID:    userID,
		TenantID:  tenantID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		ExpiresAt: s.now().Add(ttl).UTC().Truncate(time.Second),
	}
	if _, err := rand.Read(p.Secret[:]); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Seal returns the URL-safe token for p.
func (s *Sealer) Seal(p Payload) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	plain := encode(p)

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plain)+aead.Overhead())
	out[0] = version
	if _, err := rand.Read(out[1:]); err != nil {
		return "", err
	}
	out = aead.Seal(out, out[1:1+aead.NonceSize()], plain, out[:1])
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open authenticates and decodes token.
func (s *Sealer) Open(token string) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return Payload{}, ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return Payload{}, err
	}
	if len(raw) < 1+aead.NonceSize()+aead.Overhead() || raw[0] != version {
		return Payload{}, ErrMalformed
	}
	nonce := raw[1 : 1+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, raw[1+aead.NonceSize():], raw[:1])
	if err != nil {
		return Payload{}, ErrMalformed
	}
	p, err := decode(plain)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !s.now().Before(p.ExpiresAt) {
		return Payload{}, ErrExpired
	}
	return p, nil
}

// Layout: userID(8) | expiry unix(8) | secret(32) | tenantLen(2) tenant | email.
func encode(p Payload) []byte {
	buf := make([]byte, 0, 8+8+secretSize+2+len(p.TenantID)+len(p.Email))
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.UserID))
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.ExpiresAt.Unix()))
	buf = append(buf, p.Secret[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.TenantID)))
	buf = append(buf, p.TenantID...)
	buf = append(buf, p.Email...)
	return buf
}

func decode(b []byte) (Payload, error) {
	const fixed = 8 + 8 + secretSize + 2
	if len(b) < fixed {
		return Payload{}, errors.New("short payload")
	}
	var p Payload
	p.UserID = int64(binary.BigEndian.Uint64(b[0:8]))
	p.ExpiresAt = time.Unix(int64(binary.BigEndian.Uint64(b[8:16])), 0).UTC()
	copy(p.Secret[:], b[16:16+secretSize])
	n := int(binary.BigEndian.Uint16(b[16+secretSize : fixed]))
	if len(b) < fixed+n {
		return Payload{}, errors.New("short tenant")
	}
	p.TenantID = string(b[fixed : fixed+n])
	p.Email = string(b[fixed+n:])
	return p, nil
}
