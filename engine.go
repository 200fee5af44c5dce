package deskgate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/deskgate/captcha"
	"github.com/MrEthical07/deskgate/delivery"
	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/internal/audit"
	"github.com/MrEthical07/deskgate/internal/flows"
	"github.com/MrEthical07/deskgate/internal/limiters"
	"github.com/MrEthical07/deskgate/internal/resetlink"
	"github.com/MrEthical07/deskgate/internal/stores"
	"github.com/MrEthical07/deskgate/jwt"
	"github.com/MrEthical07/deskgate/otp"
	"github.com/MrEthical07/deskgate/password"
	"github.com/MrEthical07/deskgate/progress"
	"github.com/MrEthical07/deskgate/session"
	"github.com/google/uuid"
)

// Engine is the credential-exchange orchestrator. Build one with [New] and
// share it; every method is safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger

	store    identity.Store
	captcha  *captcha.Verifier
	otp      *otp.Service
	progress *progress.Codec
	hasher   *password.Hasher
	policy   password.Policy
	ledgers  ledgers

	resetRecords *stores.ResetTokenStore
	sealer       *resetlink.Sealer

	sessions *session.Store
	tokens   *jwt.Manager

	otpSender   delivery.OTPSender
	resetSender delivery.ResetTokenSender
	deliveries  sync.WaitGroup

	audit   *audit.Dispatcher
	metrics *Metrics

	now func() time.Time
}

type ledgers struct {
	otpIssue    *limiters.Ledger
	otpVerify   *limiters.Ledger
	resetIssue  *limiters.Ledger
	resetVerify *limiters.Ledger
	signIn      *limiters.Ledger
}

// Close waits for in-flight deliveries and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.deliveries.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// ProgressTTL is the lifetime of progress tokens, for cookie expiry.
func (e *Engine) ProgressTTL() time.Duration {
	return e.config.Progress.TTL
}

// PasswordResetEnabled reports whether [Engine.ResetPassword] is served.
func (e *Engine) PasswordResetEnabled() bool {
	return e != nil && e.config.PasswordReset.Enabled
}

// Ping checks the Redis backend and returns its round-trip time.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.Ping(ctx)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.now().Sub(start))
}

// classify is the single exit of every credential exchange: allow-listed
// kinds pass through, anything else is logged and becomes
// ErrInternalServerError.
func (e *Engine) classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	c := Classify(err)
	if c.Kind == KindInternalServerError {
		e.metricInc(MetricInternalError)
		loggerFromContext(ctx, e.logger).ErrorContext(ctx, "credential exchange failed",
			slog.String("op", op),
			slog.String("tenant_id", TenantIDFromContext(ctx)),
			slog.Any("error", err),
		)
	}
	return c
}

func (e *Engine) errorSet() flows.Errors {
	return flows.Errors{
		IncorrectCredentials:  ErrIncorrectUsernameOrPassword,
		UserLocked:            ErrUserIsLocked,
		NoRole:                ErrNoRoleAssignedToUser,
		SecondFactorRequired:  ErrSecondFactorRequired,
		NewPasswordRequired:   ErrNewPasswordRequired,
		TokenForEmailRequired: ErrTokenForEmailRequired,
		MaxOTPAttempts:        ErrMaxOtpAttemptsReached,
		CaptchaInvalid:        ErrCaptchaInvalid,
		IncorrectResetToken:   ErrIncorrectPassResetToken,
		TooManyAttempts:       ErrTooManyAttempts,
		PolicyViolation:       ErrPasswordPolicyViolation,
		SessionInvalid:        ErrSessionInvalid,
		IncorrectOTP:          incorrectTwoFactorCode,
	}
}

func (e *Engine) common() flows.Common {
	c := flows.Common{
		Errors:           e.errorSet(),
		Store:            e.store,
		OTP:              e.otp,
		Progress:         e.progress,
		Hasher:           e.hasher,
		Policy:           e.policy,
		OTPIssue:         e.ledgers.otpIssue,
		OTPVerify:        e.ledgers.otpVerify,
		EnumerationDelay: e.config.Security.EnumerationDelay,
		OTPDigits:        e.config.OTP.Digits,
		AllowAdminBypass: e.config.OTP.AllowAdminBypass,
		Now:              e.now,
		IssueSession:     e.issueSession,
		DeliverOTP:       e.deliverOTP,
		Emit:             e.emitFlowEvent,
		Warn:             e.warn,
	}
	if e.captcha != nil {
		c.Captcha = e.captcha
	}
	return c
}

func (e *Engine) sessionDeps() flows.SessionDeps {
	return flows.SessionDeps{
		Errors:       e.errorSet(),
		Tokens:       e.tokens,
		Sessions:     e.sessions,
		NewSessionID: uuid.NewString,
		Now:          e.now,
		Emit:         e.emitFlowEvent,
	}
}

func (e *Engine) issueSession(ctx context.Context, rec *identity.Record) (*flows.Issued, error) {
	issued, err := flows.IssueSession(ctx, rec, e.sessionDeps())
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionCreated)
	return issued, nil
}

func (e *Engine) warn(ctx context.Context, msg string, args ...any) {
	loggerFromContext(ctx, e.logger).WarnContext(ctx, msg, args...)
}

func destination(rec *identity.Record) delivery.Destination {
	return delivery.Destination{
		Name:   rec.DisplayName,
		Email:  rec.Email,
		Mobile: rec.Mobile,
	}
}

func (e *Engine) deliverOTP(ctx context.Context, rec *identity.Record, code string) {
	to := destination(rec)
	e.dispatch(ctx, "otp", MetricOTPDeliveryFailed, rec.ID, func(ctx context.Context) error {
		return e.otpSender.SendOTP(ctx, to, code)
	})
}

func (e *Engine) deliverResetToken(ctx context.Context, rec *identity.Record, sealed string) {
	to := destination(rec)
	e.dispatch(ctx, "reset_token", MetricResetDeliveryFailed, rec.ID, func(ctx context.Context) error {
		return e.resetSender.SendResetToken(ctx, to, sealed)
	})
}

// dispatch sends in the background, detached from the request but bounded
// by the delivery timeout. A failure is logged and counted; the issued code
// stays valid.
func (e *Engine) dispatch(ctx context.Context, kind string, failed MetricID, userID int64, send func(context.Context) error) {
	logger := loggerFromContext(ctx, e.logger)
	base := context.WithoutCancel(ctx)

	e.deliveries.Add(1)
	go func() {
		defer e.deliveries.Done()

		dctx, cancel := context.WithTimeout(base, e.config.Delivery.Timeout)
		defer cancel()
		if err := send(dctx); err != nil {
			e.metricInc(failed)
			logger.WarnContext(dctx, "delivery failed",
				slog.String("kind", kind),
				slog.Int64("user_id", userID),
				slog.Any("error", err),
			)
		}
	}()
}

func (e *Engine) request(ctx context.Context, req Request) flows.Request {
	return flows.Request{
		TenantID:     TenantIDFromContext(ctx),
		ClientIP:     ClientIPFromContext(ctx),
		Identifier:   req.Identifier,
		Password:     req.Password,
		CaptchaProof: req.CaptchaProof,
		OTPCode:      req.OTPCode,
		ResetToken:   req.ResetToken,
		NewPassword:  req.NewPassword,
		Progress:     req.Progress,
	}
}

func toResult(out *flows.Outcome) *Result {
	if out == nil {
		return nil
	}
	r := &Result{Progress: out.Progress, Identity: out.Identity}
	if r.Progress == nil {
		r.Progress = progress.Set{}
	}
	if out.Session != nil {
		r.SessionToken = out.Session.Token
		r.Claims = out.Session.Claims
		if c := out.Session.Claims; c != nil {
			if c.ExpiresAt != nil {
				r.ExpiresAt = c.ExpiresAt.Time
			}
			if c.RefreshAt != nil {
				r.RefreshAt = c.RefreshAt.Time
			}
		}
	}
	return r
}
