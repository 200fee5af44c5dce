package deskgate

import (
	"context"

	"github.com/MrEthical07/deskgate/internal/flows"
)

// SignIn advances the sign-in flow by one round trip: CAPTCHA, password,
// role check, one-time passcode, forced rotation, session.
//
// On success the Result carries the session token. On a need-more-input
// error ([Error.NeedsInput]) or a retryable rejection the Result carries
// the progress tokens to present next; otherwise it is nil. Every error is
// an *[Error].
func (e *Engine) SignIn(ctx context.Context, req Request) (*Result, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer e.observe(MetricExchangeLatency, start)

	out, err := flows.RunSignIn(ctx, e.request(ctx, req), flows.SignInDeps{
		Common:         e.common(),
		RequireCaptcha: e.config.SignIn.RequireCaptcha,
		RequireOTP:     e.config.SignIn.RequireOTP,
		UpgradeOnLogin: e.config.Password.UpgradeOnLogin,
		SignIn:         e.ledgers.signIn,
	})
	if err != nil {
		c := e.classify(ctx, "signin", err)
		if c == ErrInternalServerError {
			return nil, c
		}
		return toResult(out), c
	}
	return toResult(out), nil
}
