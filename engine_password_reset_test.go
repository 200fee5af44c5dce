package deskgate

import (
	"testing"
	"time"

	"github.com/MrEthical07/deskgate/progress"
)

func TestResetUnknownAddressLooksLikeRealOne(t *testing.T) {
	const floor = 150 * time.Millisecond
	engine, env, done := newTestEngine(t, func(c *Config) {
		c.Security.EnumerationDelay = floor
	})
	defer done()

	var messages []string
	for _, address := range []string{"alice@acme.test", "nobody@acme.test", "dave@acme.test", "carol@acme.test"} {
		start := time.Now()
		res, err := engine.ResetPassword(testCtx(), Request{Identifier: address, CaptchaProof: goodProof})
		elapsed := time.Since(start)

		got := requireKind(t, err, ErrTokenForEmailRequired)
		if !got.NeedsInput() {
			t.Fatalf("%s: expected need-more-input", address)
		}
		if elapsed < floor {
			t.Fatalf("%s: expected floor of %s, took %s", address, floor, elapsed)
		}
		if res == nil || res.Progress[progress.StepCaptcha] == "" {
			t.Fatalf("%s: expected captcha progress", address)
		}
		messages = append(messages, got.Message)
	}
	for _, m := range messages {
		if m != ResetRequestedMessage {
			t.Fatalf("expected generic message, got %q", m)
		}
	}

	sent := env.sender.nextReset(t)
	if sent.to.Email != "alice@acme.test" {
		t.Fatalf("expected delivery to alice only, got %+v", sent.to)
	}
	engine.Close()
	select {
	case d := <-env.sender.resets:
		t.Fatalf("unexpected delivery to %s", d.to.Email)
	default:
	}
}

func TestResetUsernameIsNotAnAddress(t *testing.T) {
	engine, env, done := newTestEngine(t, nil)
	defer done()

	_, err := engine.ResetPassword(testCtx(), Request{Identifier: "alice", CaptchaProof: goodProof})
	requireKind(t, err, ErrTokenForEmailRequired)

	engine.Close()
	if len(env.sender.resets) != 0 {
		t.Fatal("expected no delivery for a username")
	}
}

func TestResetFullFlow(t *testing.T) {
	engine, env, done := newTestEngine(t, nil)
	defer done()

	before := signInOK(t, engine, "alice", testPassword)

	const address = "alice@acme.test"
	res, err := engine.ResetPassword(testCtx(), Request{Identifier: address, CaptchaProof: goodProof})
	requireKind(t, err, ErrTokenForEmailRequired)
	token := env.sender.nextReset(t).value

	res, err = engine.ResetPassword(testCtx(), Request{Identifier: address, ResetToken: token, Progress: res.Progress})
	requireKind(t, err, ErrNewPasswordRequired)
	if res.Progress[progress.StepResetToken] == "" {
		t.Fatalf("expected reset-token progress, got %v", res.Progress)
	}

	_, err = engine.ResetPassword(testCtx(), Request{Identifier: address, NewPassword: "weak", Progress: res.Progress})
	requireKind(t, err, ErrPasswordPolicyViolation)

	const fresh = "Fresh-Start-2026"
	done2, err := engine.ResetPassword(testCtx(), Request{Identifier: address, NewPassword: fresh, Progress: res.Progress})
	if err != nil {
		t.Fatalf("reset completion failed: %v", err)
	}
	if !done2.Authenticated() || done2.Claims.UID != aliceID {
		t.Fatalf("expected alice's session, got %+v", done2)
	}

	if _, err := engine.ValidateSession(testCtx(), before.SessionToken); err == nil {
		t.Fatal("expected sessions issued before the reset to be revoked")
	}
	if _, err := engine.ValidateSession(testCtx(), done2.SessionToken); err != nil {
		t.Fatalf("expected new session to validate: %v", err)
	}

	signInOK(t, engine, "alice", fresh)
	_, err = engine.SignIn(testCtx(), Request{Identifier: "alice", Password: testPassword, CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectUsernameOrPassword)

	// The consumed token cannot be replayed, nor can the old progress.
	_, err = engine.ResetPassword(testCtx(), Request{Identifier: address, ResetToken: token, CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectPassResetToken)
	_, err = engine.ResetPassword(testCtx(), Request{Identifier: address, NewPassword: "Another-Pass-99", Progress: res.Progress})
	requireKind(t, err, ErrIncorrectPassResetToken)
}

func TestResetClearsForcedChange(t *testing.T) {
	engine, env, done := newTestEngine(t, nil)
	defer done()

	const address = "frank@acme.test"
	res, err := engine.ResetPassword(testCtx(), Request{Identifier: address, CaptchaProof: goodProof})
	requireKind(t, err, ErrTokenForEmailRequired)
	token := env.sender.nextReset(t).value

	res, err = engine.ResetPassword(testCtx(), Request{Identifier: address, ResetToken: token, NewPassword: "Fresh-Start-2026", Progress: res.Progress})
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !res.Authenticated() {
		t.Fatal("expected session")
	}
	rec, _ := env.store.Get(frankID)
	if rec.ForcePasswordChange {
		t.Fatal("expected reset to clear the forced-change flag")
	}
}

func TestResetRejectsForeignToken(t *testing.T) {
	engine, env, done := newTestEngine(t, nil)
	defer done()

	_, err := engine.ResetPassword(testCtx(), Request{Identifier: "alice@acme.test", CaptchaProof: goodProof})
	requireKind(t, err, ErrTokenForEmailRequired)
	aliceToken := env.sender.nextReset(t).value

	_, err = engine.ResetPassword(testCtx(), Request{Identifier: "bob@acme.test", CaptchaProof: goodProof})
	requireKind(t, err, ErrTokenForEmailRequired)
	_ = env.sender.nextReset(t)

	_, err = engine.ResetPassword(testCtx(), Request{Identifier: "bob@acme.test", ResetToken: aliceToken, CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectPassResetToken)

	_, err = engine.ResetPassword(testCtx(), Request{Identifier: "nobody@acme.test", ResetToken: aliceToken, CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectPassResetToken)

	_, err = engine.ResetPassword(testCtx(), Request{Identifier: "alice@acme.test", ResetToken: "not-a-token", CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectPassResetToken)
}

func TestResetIssuanceCeiling(t *testing.T) {
	engine, env, done := newTestEngine(t, nil)
	defer done()

	req := Request{Identifier: "alice@acme.test", CaptchaProof: goodProof}
	for i := 0; i < 5; i++ {
		_, err := engine.ResetPassword(testCtx(), req)
		requireKind(t, err, ErrTokenForEmailRequired)
		_ = env.sender.nextReset(t)
	}
	_, err := engine.ResetPassword(testCtx(), req)
	requireKind(t, err, ErrTooManyAttempts)

	// The same answer for an address without an account.
	unknown := Request{Identifier: "nobody@acme.test", CaptchaProof: goodProof}
	for i := 0; i < 5; i++ {
		_, _ = engine.ResetPassword(testCtx(), unknown)
	}
	_, err = engine.ResetPassword(testCtx(), unknown)
	requireKind(t, err, ErrTooManyAttempts)
}

func TestResetWithSecondFactor(t *testing.T) {
	engine, env, done := newTestEngine(t, func(c *Config) {
		c.PasswordReset.RequireOTP = true
	})
	defer done()

	const address = "bob@acme.test"
	res, err := engine.ResetPassword(testCtx(), Request{Identifier: address, CaptchaProof: goodProof})
	requireKind(t, err, ErrSecondFactorRequired)
	code := env.sender.nextOTP(t).value

	res, err = engine.ResetPassword(testCtx(), Request{Identifier: address, OTPCode: code, Progress: res.Progress})
	requireKind(t, err, ErrTokenForEmailRequired)
	if res.Progress[progress.StepOTP] == "" {
		t.Fatal("expected otp progress")
	}
	token := env.sender.nextReset(t).value

	res, err = engine.ResetPassword(testCtx(), Request{Identifier: address, ResetToken: token, NewPassword: "Fresh-Start-2026", Progress: res.Progress})
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !res.Authenticated() {
		t.Fatal("expected session")
	}

	// An unknown address is asked for a code too.
	_, err = engine.ResetPassword(testCtx(), Request{Identifier: "nobody@acme.test", CaptchaProof: goodProof})
	requireKind(t, err, ErrSecondFactorRequired)
}

func TestResetDisabled(t *testing.T) {
	engine, _, done := newTestEngine(t, func(c *Config) {
		c.PasswordReset.Enabled = false
	})
	defer done()

	if engine.PasswordResetEnabled() {
		t.Fatal("expected reset to report disabled")
	}
	_, err := engine.ResetPassword(testCtx(), Request{Identifier: "alice@acme.test", CaptchaProof: goodProof})
	requireKind(t, err, ErrInternalServerError)
}
