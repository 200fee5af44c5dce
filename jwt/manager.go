package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the session token algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	ErrInvalidConfig = errors.New("invalid session token configuration")
	ErrTokenInvalid  = errors.New("invalid session token")
)

// Config controls minting and verification of session tokens.
type Config struct {
	SessionTTL    time.Duration
	RefreshAfter  time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Manager mints and parses session tokens.
type Manager struct {
	config Config
	now    func() time.Time
}

// Subject is the verified identity a session token is minted for.
type Subject struct {
	UserID      int64
	TenantID    string
	Username    string
	DisplayName string
	Email       string
	Roles       []string
	Permissions []string
}

// SessionClaims is the signed payload of a session token. RefreshAt is the
// sliding watermark: before it a refresh is refused, after it a refresh
// mints a fresh token with the same identity claims.
type SessionClaims struct {
	UID         int64            `json:"uid"`
	TID         string           `json:"tid"`
	SID         string           `json:"sid"`
	Username    string           `json:"usr"`
	DisplayName string           `json:"name,omitempty"`
	Email       string           `json:"email,omitempty"`
	Roles       []string         `json:"roles"`
	Permissions []string         `json:"perms,omitempty"`
	RefreshAt   *jwt.NumericDate `json:"rfa,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the subject carried by the claims.
func (c *SessionClaims) Identity() Subject {
	return Subject{
		UserID:      c.UID,
		TenantID:    c.TID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Email:       c.Email,
		Roles:       append([]string(nil), c.Roles...),
		Permissions: append([]string(nil), c.Permissions...),
	}
}

// NewManager validates cfg and fills defaults: RefreshAfter is half the
// session TTL and MaxFutureIAT is ten minutes.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("%w: session ttl must be > 0", ErrInvalidConfig)
	}
	if cfg.RefreshAfter == 0 {
		cfg.RefreshAfter = cfg.SessionTTL / 2
	}
	if cfg.RefreshAfter < 0 || cfg.RefreshAfter > cfg.SessionTTL {
		return nil, fmt.Errorf("%w: refresh watermark must be within session ttl", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway", ErrInvalidConfig)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, fmt.Errorf("%w: hs256 requires a key of at least 32 bytes", ErrInvalidConfig)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, fmt.Errorf("%w: ed25519 requires public key or verify key set", ErrInvalidConfig)
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, fmt.Errorf("%w: verify key map contains empty kid", ErrInvalidConfig)
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, fmt.Errorf("%w: KeyID is not present in VerifyKeys", ErrInvalidConfig)
		}
	}

	return &Manager{config: cfg, now: time.Now}, nil
}

// TTL returns the absolute lifetime of a session token.
func (j *Manager) TTL() time.Duration {
	return j.config.SessionTTL
}

// Mint signs a new session token for sub under session id sid.
func (j *Manager) Mint(sub Subject, sid string) (string, *SessionClaims, error) {
	now := j.now()
	claims := &SessionClaims{
		UID:         sub.UserID,
		TID:         sub.TenantID,
		SID:         sid,
		Username:    sub.Username,
		DisplayName: sub.DisplayName,
		Email:       sub.Email,
		Roles:       append([]string(nil), sub.Roles...),
		Permissions: append([]string(nil), sub.Permissions...),
		RefreshAt:   jwt.NewNumericDate(now.Add(j.config.RefreshAfter)),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
			ID:        sid,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.signKey()
	if err != nil {
		return "", nil, err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse verifies signature, algorithm, issuer, audience and expiry.
func (j *Manager) Parse(tokenStr string) (*SessionClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &SessionClaims{}, j.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SID == "" {
		return nil, ErrTokenInvalid
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.now().Add(j.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
	}

	return claims, nil
}

// RefreshDue reports whether claims have passed their refresh watermark.
func (j *Manager) RefreshDue(claims *SessionClaims) bool {
	if claims == nil || claims.RefreshAt == nil {
		return true
	}
	return !j.now().Before(claims.RefreshAt.Time)
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.verifyKeyFromBytes(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.verifyKey()
}

func (j *Manager) method() jwt.SigningMethod {
	if j.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (j *Manager) signKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPrivateKey(j.config.PrivateKey)
}

func (j *Manager) verifyKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPublicKey(j.config.PublicKey)
}

func (j *Manager) verifyKeyFromBytes(key []byte) (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}
