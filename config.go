package deskgate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override; [Builder.Build] validates it and keeps a private copy.
type Config struct {
	SignIn        SignInConfig
	PasswordReset PasswordResetConfig
	OTP           OTPConfig
	RateLimit     RateLimitConfig
	Captcha       CaptchaConfig
	Progress      ProgressConfig
	Session       SessionConfig
	Password      PasswordConfig
	Security      SecurityConfig
	Delivery      DeliveryConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
SIGN-IN CONFIG
====================================
*/

// SignInConfig selects the steps of the sign-in flow.
type SignInConfig struct {
	RequireCaptcha bool
	RequireOTP     bool
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig controls the recovery flow. Secret keys the sealing
// of e-mailed reset tokens and must be at least 32 bytes when Enabled.
type PasswordResetConfig struct {
	Enabled        bool
	RequireCaptcha bool
	RequireOTP     bool
	TokenTTL       time.Duration
	MaxAttempts    int
	Secret         []byte
	RedisPrefix    string
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig shapes one-time passcodes. AllowAdminBypass lets the "admin"
// account pass the second factor with any numeric code of Digits length.
type OTPConfig struct {
	Digits           int
	TTL              time.Duration
	MaxAttempts      int
	AllowAdminBypass bool
	RedisPrefix      string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// LedgerLimit is the ceiling and ban window of one ledger scope.
type LedgerLimit struct {
	Ceiling int
	Ban     time.Duration
}

// RateLimitConfig holds one limit per ban-ledger scope.
type RateLimitConfig struct {
	OTPIssue    LedgerLimit
	OTPVerify   LedgerLimit
	ResetIssue  LedgerLimit
	ResetVerify LedgerLimit
	SignIn      LedgerLimit
}

/*
====================================
CAPTCHA CONFIG
====================================
*/

// CaptchaConfig sets the minimum trust score a proof must earn.
type CaptchaConfig struct {
	Threshold float64
}

/*
====================================
PROGRESS CONFIG
====================================
*/

// ProgressConfig keys and bounds the progress tokens carried between round
// trips. Secret must be at least 32 bytes.
type ProgressConfig struct {
	Secret []byte
	TTL    time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session token minting and the Redis session
// registry. RefreshAfter is the sliding watermark after which a refresh
// mints a new token.
type SessionConfig struct {
	TTL           time.Duration
	RefreshAfter  time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	RedisPrefix   string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost and the rotation policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool

	MinLength      int
	MaxLength      int
	RequireMixed   bool
	RejectUsername bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds cross-cutting hardening. EnumerationDelay is the
// minimum duration of every response that could reveal whether an
// identity exists.
type SecurityConfig struct {
	ProductionMode   bool
	EnumerationDelay time.Duration
}

/*
====================================
DELIVERY CONFIG
====================================
*/

// DeliveryConfig bounds the fire-and-forget delivery of codes and tokens.
type DeliveryConfig struct {
	Timeout time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the portal defaults. Secrets are left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		SignIn: SignInConfig{
			RequireCaptcha: true,
			RequireOTP:     false,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:        true,
			RequireCaptcha: true,
			RequireOTP:     false,
			TokenTTL:       30 * time.Minute,
			MaxAttempts:    5,
			RedisPrefix:    "dgrt",
		},
		OTP: OTPConfig{
			Digits:           6,
			TTL:              270 * time.Second,
			MaxAttempts:      3,
			AllowAdminBypass: true,
			RedisPrefix:      "dgotp",
		},
		RateLimit: RateLimitConfig{
			OTPIssue:    LedgerLimit{Ceiling: 3, Ban: 300 * time.Second},
			OTPVerify:   LedgerLimit{Ceiling: 3, Ban: 300 * time.Second},
			ResetIssue:  LedgerLimit{Ceiling: 5, Ban: 300 * time.Second},
			ResetVerify: LedgerLimit{Ceiling: 5, Ban: 300 * time.Second},
			SignIn:      LedgerLimit{Ceiling: 5, Ban: 300 * time.Second},
		},
		Captcha: CaptchaConfig{
			Threshold: 0.5,
		},
		Progress: ProgressConfig{
			TTL: 10 * time.Minute,
		},
		Session: SessionConfig{
			TTL:           8 * time.Hour,
			RefreshAfter:  4 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "deskgate",
			RedisPrefix:   "dgs",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			MinLength:      10,
			MaxLength:      256,
			RequireMixed:   true,
			RejectUsername: true,
		},
		Security: SecurityConfig{
			ProductionMode:   false,
			EnumerationDelay: 1500 * time.Millisecond,
		},
		Delivery: DeliveryConfig{
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	out.Progress.Secret = cloneBytes(cfg.Progress.Secret)
	out.PasswordReset.Secret = cloneBytes(cfg.PasswordReset.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the engine cannot run safely with.
func (c *Config) Validate() error {
	// Progress
	if len(c.Progress.Secret) < 32 {
		return errors.New("Progress Secret must be at least 32 bytes")
	}
	if c.Progress.TTL <= 0 {
		return errors.New("Progress TTL must be > 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RefreshAfter < 0 || c.Session.RefreshAfter > c.Session.TTL {
		return errors.New("Session RefreshAfter must be within [0, TTL]")
	}
	switch c.Session.SigningMethod {
	case "hs256":
		if len(c.Session.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	case "ed25519":
		if len(c.Session.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
		if len(c.Session.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported session signing method")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be within [0, 2m]")
	}
	if c.Session.Audience != "" && strings.TrimSpace(c.Session.Audience) == "" {
		return errors.New("Session Audience must not be blank")
	}

	// OTP
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be within [4, 10]")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}

	// Rate limits
	for name, l := range map[string]LedgerLimit{
		"OTPIssue":    c.RateLimit.OTPIssue,
		"OTPVerify":   c.RateLimit.OTPVerify,
		"ResetIssue":  c.RateLimit.ResetIssue,
		"ResetVerify": c.RateLimit.ResetVerify,
		"SignIn":      c.RateLimit.SignIn,
	} {
		if l.Ceiling <= 0 {
			return fmt.Errorf("RateLimit %s Ceiling must be > 0", name)
		}
		if l.Ban <= 0 {
			return fmt.Errorf("RateLimit %s Ban must be > 0", name)
		}
	}

	// Captcha
	if c.Captcha.Threshold < 0 || c.Captcha.Threshold > 1 {
		return errors.New("Captcha Threshold must be within [0, 1]")
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if len(c.PasswordReset.Secret) < 32 {
			return errors.New("PasswordReset Secret must be at least 32 bytes")
		}
		if c.PasswordReset.TokenTTL <= 0 {
			return errors.New("PasswordReset TokenTTL must be > 0")
		}
		if c.PasswordReset.TokenTTL > 24*time.Hour {
			return errors.New("PasswordReset TokenTTL must be <= 24h")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset MaxAttempts must be > 0")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 0 || (c.Password.MaxLength > 0 && c.Password.MaxLength < c.Password.MinLength) {
		return errors.New("Password MinLength/MaxLength are inconsistent")
	}

	// Security
	if c.Security.EnumerationDelay < 0 {
		return errors.New("Security EnumerationDelay must be >= 0")
	}

	// Delivery
	if c.Delivery.Timeout <= 0 {
		return errors.New("Delivery Timeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Production hardening
	if c.Security.ProductionMode {
		if c.Security.EnumerationDelay < time.Second {
			return errors.New("ProductionMode requires EnumerationDelay >= 1s")
		}
		if c.Session.SigningMethod == "hs256" && len(c.Session.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.Password.Memory < 65536 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if !c.SignIn.RequireCaptcha {
			return errors.New("ProductionMode requires SignIn RequireCaptcha")
		}
		if c.PasswordReset.Enabled && !c.PasswordReset.RequireCaptcha {
			return errors.New("ProductionMode requires PasswordReset RequireCaptcha")
		}
		if c.Session.TTL > 24*time.Hour {
			return errors.New("ProductionMode requires Session TTL <= 24h")
		}
	}

	return nil
}
