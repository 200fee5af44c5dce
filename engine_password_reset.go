package deskgate

import (
	"context"
	"errors"

	"github.com/MrEthical07/deskgate/internal/flows"
)

var errPasswordResetDisabled = errors.New("password reset disabled")

// ResetPassword advances the recovery flow by one round trip: CAPTCHA,
// e-mail lookup, optional passcode, e-mailed reset token, new password,
// session.
//
// Until the reset token is proven, a request for an unknown, inactive or
// locked address is indistinguishable from one for a real account: same
// kind, same message and the same response-time floor.
func (e *Engine) ResetPassword(ctx context.Context, req Request) (*Result, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled || e.sealer == nil {
		return nil, e.classify(ctx, "password_reset", errPasswordResetDisabled)
	}
	start := e.now()
	defer e.observe(MetricExchangeLatency, start)

	out, err := flows.RunPasswordReset(ctx, e.request(ctx, req), flows.PasswordResetDeps{
		Common:            e.common(),
		RequireCaptcha:    e.config.PasswordReset.RequireCaptcha,
		RequireOTP:        e.config.PasswordReset.RequireOTP,
		TokenTTL:          e.config.PasswordReset.TokenTTL,
		MaxAttempts:       e.config.PasswordReset.MaxAttempts,
		ResetIssue:        e.ledgers.resetIssue,
		ResetVerify:       e.ledgers.resetVerify,
		Records:           e.resetRecords,
		Sealer:            e.sealer,
		DeliverResetToken: e.deliverResetToken,
		SignOutAll: func(ctx context.Context, tenantID string, userID int64) error {
			_, err := flows.RunSignOutAll(ctx, tenantID, userID, e.sessionDeps())
			return err
		},
	})
	if err != nil {
		c := e.classify(ctx, "password_reset", err)
		if c == ErrInternalServerError {
			return nil, c
		}
		return toResult(out), c
	}
	return toResult(out), nil
}
