package deskgate

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is a valid but questionable setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list returned by [Config.Lint].
type LintResult []LintWarning

func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds the warnings at or above min into one error, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, 0, len(hits))
	for _, w := range hits {
		parts = append(parts, w.Code+": "+w.Message)
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

// Lint reports settings that pass [Config.Validate] but weaken the
// portal's posture. It never mutates c.
func (c *Config) Lint() LintResult {
	var out LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		out = append(out, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if !c.SignIn.RequireCaptcha {
		add("signin_captcha_disabled", LintWarn, "sign-in accepts password guesses without a CAPTCHA")
	}
	if c.PasswordReset.Enabled && !c.PasswordReset.RequireCaptcha {
		add("reset_captcha_disabled", LintWarn, "password reset can be triggered without a CAPTCHA")
	}
	if !c.SignIn.RequireOTP {
		add("signin_otp_disabled", LintInfo, "sign-in has no second factor")
	}
	if c.OTP.AllowAdminBypass && (c.SignIn.RequireOTP || c.PasswordReset.RequireOTP) {
		sev := LintWarn
		if c.Security.ProductionMode {
			sev = LintHigh
		}
		add("otp_admin_bypass", sev, "the admin account passes the second factor with any %d-digit code", c.OTP.Digits)
	}
	if c.Security.EnumerationDelay < time.Second {
		add("enumeration_delay_short", LintWarn, "enumeration delay %s may let response timing reveal accounts", c.Security.EnumerationDelay)
	}
	if c.OTP.TTL > 10*time.Minute {
		add("otp_ttl_long", LintWarn, "passcodes live for %s", c.OTP.TTL)
	}
	if c.PasswordReset.Enabled && c.PasswordReset.TokenTTL > time.Hour {
		add("reset_ttl_long", LintWarn, "reset tokens live for %s", c.PasswordReset.TokenTTL)
	}
	if c.Progress.TTL > 30*time.Minute {
		add("progress_ttl_long", LintWarn, "completed steps are remembered for %s", c.Progress.TTL)
	}
	if c.Session.TTL > 24*time.Hour {
		add("session_ttl_long", LintWarn, "sessions live for %s", c.Session.TTL)
	}
	if c.Session.SigningMethod == "hs256" {
		add("session_hs256", LintInfo, "session tokens use a shared secret; ed25519 lets verifiers hold only the public key")
	}
	if c.Password.Memory < 65536 {
		add("argon2_memory_low", LintWarn, "Argon2id memory %d KB is below 64 MiB", c.Password.Memory)
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "no audit trail of credential exchanges")
	}
	return out
}
