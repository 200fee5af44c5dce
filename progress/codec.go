package progress

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Flow names the state machine a token belongs to.
type Flow string

const (
	FlowSignIn Flow = "signin"
	FlowReset  Flow = "reset"
)

// Step names a satisfied verification step.
type Step string

const (
	StepCaptcha    Step = "captcha"
	StepOTP        Step = "otp"
	StepResetToken Step = "reset_token"
)

// Steps lists every step in the order a flow can satisfy them.
var Steps = []Step{StepCaptcha, StepOTP, StepResetToken}

const minSecretBytes = 32

var (
	ErrSecretTooShort = errors.New("progress secret must be at least 32 bytes")
	ErrUnknownStep    = errors.New("unknown progress step")
)

// Set maps a step to the token presented for it.
type Set map[Step]string

// Claims is the decoded progress of one flow for one subject.
type Claims struct {
	Subject            string
	CaptchaVerified    bool
	OTPVerified        bool
	ResetTokenVerified bool
	IssuedAt           time.Time
	ExpiresAt          time.Time
}

// Empty reports whether no step is satisfied.
func (c Claims) Empty() bool {
	return !c.CaptchaVerified && !c.OTPVerified && !c.ResetTokenVerified
}

type stepClaims struct {
	Flow Flow `json:"flw"`
	Step Step `json:"stp"`
	jwt.RegisteredClaims
}

// Codec issues and verifies progress tokens.
type Codec struct {
	keys map[Flow]map[Step][]byte
	ttl  time.Duration
	now  func() time.Time
}

// NewCodec derives one signing key per flow and step from secret.
func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("progress ttl must be > 0, got %s", ttl)
	}

	c := &Codec{
		keys: make(map[Flow]map[Step][]byte, 2),
		ttl:  ttl,
		now:  time.Now,
	}
	for _, flow := range []Flow{FlowSignIn, FlowReset} {
		c.keys[flow] = make(map[Step][]byte, len(Steps))
		for _, step := range Steps {
			key := make([]byte, 32)
			r := hkdf.New(sha256.New, secret, nil, []byte("deskgate/progress/"+string(flow)+"/"+string(step)))
			if _, err := io.ReadFull(r, key); err != nil {
				return nil, err
			}
			c.keys[flow][step] = key
		}
	}
	return c, nil
}

// TTL returns the lifetime of issued tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token asserting that step of flow is satisfied for subject.
func (c *Codec) Issue(flow Flow, step Step, subject string) (string, error) {
	key, ok := c.keys[flow][step]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownStep, flow, step)
	}

	now := c.now()
	claims := stepClaims{
		Flow: flow,
		Step: step,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   normalizeSubject(subject),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// Verify reports whether token proves step of flow for subject.
func (c *Codec) Verify(flow Flow, step Step, subject, token string) bool {
	_, ok := c.verify(flow, step, subject, token)
	return ok
}

func (c *Codec) verify(flow Flow, step Step, subject, token string) (*stepClaims, bool) {
	key, ok := c.keys[flow][step]
	if !ok || token == "" {
		return nil, false
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(normalizeSubject(subject)),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.ParseWithClaims(token, &stepClaims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}
	claims, ok := parsed.Claims.(*stepClaims)
	if !ok || claims.Flow != flow || claims.Step != step {
		return nil, false
	}
	return claims, true
}

// Decode verifies every token in set for subject. Any invalid token
// collapses the result to zero claims.
func (c *Codec) Decode(flow Flow, subject string, set Set) Claims {
	out := Claims{Subject: normalizeSubject(subject)}
	for step, token := range set {
		if token == "" {
			continue
		}
		claims, ok := c.verify(flow, step, subject, token)
		if !ok {
			return Claims{Subject: out.Subject}
		}
		switch step {
		case StepCaptcha:
			out.CaptchaVerified = true
		case StepOTP:
			out.OTPVerified = true
		case StepResetToken:
			out.ResetTokenVerified = true
		}
		iat := claims.IssuedAt.Time
		if out.IssuedAt.IsZero() || iat.Before(out.IssuedAt) {
			out.IssuedAt = iat
		}
		exp := claims.ExpiresAt.Time
		if out.ExpiresAt.IsZero() || exp.Before(out.ExpiresAt) {
			out.ExpiresAt = exp
		}
	}
	return out
}

// CookieName returns the cookie that carries step of flow.
func CookieName(flow Flow, step Step) string {
	return "dg_" + string(flow) + "_" + string(step)
}

func normalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}
