package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	potp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Generator mints a numeric code of the given length.
type Generator interface {
	Generate(digits int, secret string) (string, error)
}

// RandomGenerator draws uniformly from crypto/rand and ignores secret.
type RandomGenerator struct{}

func (RandomGenerator) Generate(digits int, _ string) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// TOTPGenerator derives the code from the user's base32 MFA seed at the
// current time step, so an authenticator app shows the same code that was
// delivered. Users without a seed fall back to Fallback.
type TOTPGenerator struct {
	Period   uint
	Fallback Generator
	Now      func() time.Time
}

func (g TOTPGenerator) Generate(digits int, secret string) (string, error) {
	if secret == "" {
		fallback := g.Fallback
		if fallback == nil {
			fallback = RandomGenerator{}
		}
		return fallback.Generate(digits, "")
	}

	period := g.Period
	if period == 0 {
		period = 30
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return totp.GenerateCodeCustom(secret, now().UTC(), totp.ValidateOpts{
		Period:    period,
		Digits:    potp.Digits(digits),
		Algorithm: potp.AlgorithmSHA1,
	})
}
