package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/jwt"
	"github.com/MrEthical07/deskgate/otp"
	"github.com/MrEthical07/deskgate/progress"
)

// Ledger is one scope of the ban ledger.
type Ledger interface {
	RecordAttempt(ctx context.Context, actorKey string) (int, error)
	IsBanned(ctx context.Context, actorKey string) (bool, error)
	Reset(ctx context.Context, actorKey string) error
}

// CaptchaVerifier checks a CAPTCHA proof.
type CaptchaVerifier interface {
	Verify(ctx context.Context, proof, remoteIP string) error
}

// Passcodes is the OTP lifecycle.
type Passcodes interface {
	Issue(ctx context.Context, actorKey, secret string) (string, error)
	Validate(ctx context.Context, actorKey, code string) (otp.Result, error)
	Invalidate(ctx context.Context, actorKey string) error
	WellFormed(code string) bool
}

// ProgressCodec issues and decodes progress tokens.
type ProgressCodec interface {
	Issue(flow progress.Flow, step progress.Step, subject string) (string, error)
	Decode(flow progress.Flow, subject string, set progress.Set) progress.Claims
}

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	VerifyDummy(password string)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// PasswordPolicy validates a candidate password.
type PasswordPolicy interface {
	Check(candidate, username string) error
}

// Request is a credential-exchange request with its caller context resolved.
type Request struct {
	TenantID     string
	ClientIP     string
	Identifier   string
	Password     string
	CaptchaProof string
	OTPCode      string
	ResetToken   string
	NewPassword  string
	Progress     progress.Set
}

// Issued is a minted session.
type Issued struct {
	Token  string
	Claims *jwt.SessionClaims
}

// Outcome is what a flow hands back on success and alongside need-more-input
// errors: the progress tokens the client should hold and, once
// authenticated, the session.
type Outcome struct {
	Progress progress.Set
	Identity *identity.Record
	Session  *Issued
}

// Errors carries the host's classified errors.
type Errors struct {
	IncorrectCredentials  error
	UserLocked            error
	NoRole                error
	SecondFactorRequired  error
	NewPasswordRequired   error
	TokenForEmailRequired error
	MaxOTPAttempts        error
	CaptchaInvalid        error
	IncorrectResetToken   error
	TooManyAttempts       error
	PolicyViolation       error
	SessionInvalid        error

	// IncorrectOTP builds the mismatch error carrying the remaining count.
	IncorrectOTP func(remaining int) error
}

// Event is a state transition reported to the host for audit and metrics.
type Event struct {
	Name    string
	Success bool
	UserID  int64
	Reason  string
	Err     error
}

const (
	EventCaptchaPassed      = "captcha_passed"
	EventCaptchaFailed      = "captcha_failed"
	EventSignInSuccess      = "signin_success"
	EventSignInFailure      = "signin_failure"
	EventSignInBanned       = "signin_banned"
	EventOTPIssued          = "otp_issued"
	EventOTPVerified        = "otp_verified"
	EventOTPFailed          = "otp_failed"
	EventOTPBanned          = "otp_banned"
	EventOTPBypass          = "otp_bypass"
	EventPasswordRotated    = "password_rotated"
	EventResetRequested     = "reset_requested"
	EventResetBanned        = "reset_banned"
	EventResetTokenVerified = "reset_token_verified"
	EventResetTokenFailed   = "reset_token_failed"
	EventResetCompleted     = "reset_completed"
	EventSessionRefreshed   = "session_refreshed"
	EventSessionInvalid     = "session_invalid"
	EventSignOut            = "signout"
	EventSignOutAll         = "signout_all"
)

// Common is shared by the sign-in and reset flows.
type Common struct {
	Errors Errors

	Store    identity.Store
	Captcha  CaptchaVerifier
	OTP      Passcodes
	Progress ProgressCodec
	Hasher   Hasher
	Policy   PasswordPolicy

	OTPIssue  Ledger
	OTPVerify Ledger

	// EnumerationDelay is the minimum time an identity-revealing rejection
	// takes, measured from the start of the request.
	EnumerationDelay time.Duration
	// OTPDigits is the code length accepted by the unconditional bypass.
	OTPDigits int
	// AllowAdminBypass enables isUnconditionalOTPBypass.
	AllowAdminBypass bool

	Now func() time.Time

	IssueSession func(ctx context.Context, rec *identity.Record) (*Issued, error)
	DeliverOTP   func(ctx context.Context, rec *identity.Record, code string)
	Emit         func(ctx context.Context, ev Event)
	// Warn reports best-effort cleanup failures that do not fail the request.
	Warn func(ctx context.Context, msg string, args ...any)
}

func (c *Common) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Common) emit(ctx context.Context, ev Event) {
	if c.Emit != nil {
		c.Emit(ctx, ev)
	}
}

func (c *Common) warn(ctx context.Context, msg string, args ...any) {
	if c.Warn != nil {
		c.Warn(ctx, msg, args...)
	}
}

// clearActor drops every ledger counter and the live passcode for actor
// once an exchange has fully succeeded.
func (c *Common) clearActor(ctx context.Context, actor string, ledgers ...Ledger) {
	for _, l := range ledgers {
		if err := l.Reset(ctx, actor); err != nil {
			c.warn(ctx, "ledger reset failed", "error", err)
		}
	}
	if err := c.OTP.Invalidate(ctx, actor); err != nil {
		c.warn(ctx, "otp invalidate failed", "error", err)
	}
}

// waitFloor blocks until delay has elapsed since start or ctx ends.
func waitFloor(ctx context.Context, start time.Time, delay time.Duration, now time.Time) {
	left := delay - now.Sub(start)
	if left <= 0 {
		return
	}
	t := time.NewTimer(left)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// ActorKey identifies who is attempting what: tenant, client address and
// the lower-cased identifier.
func ActorKey(tenantID, clientIP, identifier string) string {
	return tenantID + "|" + clientIP + "|" + identity.Normalize(identifier)
}

// Subject binds progress tokens to a tenant and identifier.
func Subject(tenantID, identifier string) string {
	return tenantID + "|" + identity.Normalize(identifier)
}

func carry(out progress.Set, in progress.Set, step progress.Step) {
	if tok := in[step]; tok != "" {
		out[step] = tok
	}
}
