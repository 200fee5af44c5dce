package deskgate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/deskgate/captcha"
	"github.com/MrEthical07/deskgate/progress"
)

func TestSignInIssuesSessionWithoutSecondFactor(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	res := signInOK(t, engine, "alice", testPassword)
	if res.Claims == nil || res.Claims.UID != aliceID || res.Claims.TID != testTenant {
		t.Fatalf("unexpected claims %+v", res.Claims)
	}
	if len(res.Claims.Roles) != 1 || res.Claims.Roles[0] != "agent" {
		t.Fatalf("expected roles to be copied into the session, got %v", res.Claims.Roles)
	}
	if len(res.Progress) != 0 {
		t.Fatalf("expected progress to be cleared on success, got %v", res.Progress)
	}
	if !res.ExpiresAt.After(time.Now()) || !res.RefreshAt.Before(res.ExpiresAt) {
		t.Fatalf("unexpected expiry %v refresh %v", res.ExpiresAt, res.RefreshAt)
	}

	claims, err := engine.ValidateSession(testCtx(), res.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if claims.SID != res.Claims.SID {
		t.Fatal("expected validated session to match the issued one")
	}
}

func TestSignInAcceptsEmailIdentifier(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	res := signInOK(t, engine, " Alice@ACME.test ", testPassword)
	if res.Identity.ID != aliceID {
		t.Fatalf("expected alice, got %d", res.Identity.ID)
	}
}

func TestSignInCaptchaRequired(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	for _, proof := range []string{"", badProof} {
		res, err := engine.SignIn(testCtx(), Request{Identifier: "alice", Password: testPassword, CaptchaProof: proof})
		requireKind(t, err, ErrCaptchaInvalid)
		if res != nil {
			t.Fatalf("expected no result on captcha rejection, got %+v", res)
		}
	}
}

func TestSignInCaptchaClaimIsCarried(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	res, err := engine.SignIn(testCtx(), Request{Identifier: "alice", Password: "wrong-password-1", CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectUsernameOrPassword)
	if res == nil || res.Progress[progress.StepCaptcha] == "" {
		t.Fatal("expected captcha progress token after a retryable failure")
	}

	res, err = engine.SignIn(testCtx(), Request{Identifier: "alice", Password: testPassword, Progress: res.Progress})
	if err != nil {
		t.Fatalf("expected carried captcha claim to satisfy the step: %v", err)
	}
	if !res.Authenticated() {
		t.Fatal("expected session")
	}
}

func TestSignInCaptchaClaimIsBoundToIdentifier(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	res, err := engine.SignIn(testCtx(), Request{Identifier: "alice", Password: "wrong-password-1", CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectUsernameOrPassword)

	_, err = engine.SignIn(testCtx(), Request{Identifier: "bob", Password: testPassword, Progress: res.Progress})
	requireKind(t, err, ErrCaptchaInvalid)
}

func TestSignInTamperedProgressCarriesNoClaims(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	res, err := engine.SignIn(testCtx(), Request{Identifier: "alice", Password: "wrong-password-1", CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectUsernameOrPassword)

	parts := strings.Split(res.Progress[progress.StepCaptcha], ".")
	if len(parts) != 3 {
		t.Fatalf("expected a three-part token, got %d parts", len(parts))
	}
	flipped := "A"
	if parts[2][0] == 'A' {
		flipped = "B"
	}
	parts[2] = flipped + parts[2][1:]
	tampered := progress.Set{progress.StepCaptcha: strings.Join(parts, ".")}

	_, err = engine.SignIn(testCtx(), Request{Identifier: "alice", Password: testPassword, Progress: tampered})
	requireKind(t, err, ErrCaptchaInvalid)
}

func TestSignInUnknownAndInactiveAreIndistinguishable(t *testing.T) {
	const floor = 150 * time.Millisecond
	engine, _, done := newTestEngine(t, func(c *Config) {
		c.Security.EnumerationDelay = floor
	})
	defer done()

	cases := []struct {
		name       string
		identifier string
		password   string
	}{
		{name: "unknown username", identifier: "nobody", password: testPassword},
		{name: "unknown email", identifier: "nobody@acme.test", password: testPassword},
		{name: "inactive", identifier: "dave", password: testPassword},
		{name: "wrong password", identifier: "alice", password: "wrong-password-1"},
		{name: "empty identifier", identifier: "  ", password: testPassword},
	}

	var message string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start := time.Now()
			_, err := engine.SignIn(testCtx(), Request{Identifier: tc.identifier, Password: tc.password, CaptchaProof: goodProof})
			elapsed := time.Since(start)

			got := requireKind(t, err, ErrIncorrectUsernameOrPassword)
			if message == "" {
				message = got.Message
			} else if got.Message != message {
				t.Fatalf("message differs: %q vs %q", got.Message, message)
			}
			if elapsed < floor {
				t.Fatalf("expected response no earlier than %s, got %s", floor, elapsed)
			}
		})
	}
}

func TestSignInLockedRegardlessOfPassword(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	for _, pw := range []string{testPassword, "wrong-password-1"} {
		res, err := engine.SignIn(testCtx(), Request{Identifier: "carol", Password: pw, CaptchaProof: goodProof})
		requireKind(t, err, ErrUserIsLocked)
		if res != nil {
			t.Fatal("expected no result for a locked account")
		}
	}
}

func TestSignInEmptyRolesNeverAuthenticates(t *testing.T) {
	engine, _, done := newTestEngine(t, func(c *Config) {
		c.SignIn.RequireOTP = true
	})
	defer done()

	for _, pw := range []string{testPassword, "wrong-password-1"} {
		_, err := engine.SignIn(testCtx(), Request{Identifier: "erin", Password: pw, CaptchaProof: goodProof, OTPCode: codeFor(1)})
		requireKind(t, err, ErrNoRoleAssignedToUser)
	}
}

func TestSignInTenantIsolation(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	ctx := WithClientIP(WithTenantID(context.Background(), "globex"), testClientIP)
	_, err := engine.SignIn(ctx, Request{Identifier: "alice", Password: testPassword, CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectUsernameOrPassword)
}

func TestSignInBanAfterRepeatedFailures(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	for i := 0; i < 5; i++ {
		_, err := engine.SignIn(testCtx(), Request{Identifier: "alice", Password: "wrong-password-1", CaptchaProof: goodProof})
		requireKind(t, err, ErrIncorrectUsernameOrPassword)
	}

	_, err := engine.SignIn(testCtx(), Request{Identifier: "alice", Password: testPassword, CaptchaProof: goodProof})
	requireKind(t, err, ErrTooManyAttempts)

	// A different client address is a different actor.
	other := WithClientIP(WithTenantID(context.Background(), testTenant), "198.51.100.9")
	if _, err := engine.SignIn(other, Request{Identifier: "alice", Password: testPassword, CaptchaProof: goodProof}); err != nil {
		t.Fatalf("expected other actor to sign in, got %v", err)
	}
}

func TestSignInSuccessClearsLedger(t *testing.T) {
	engine, _, done := newTestEngine(t, nil)
	defer done()

	for i := 0; i < 4; i++ {
		_, _ = engine.SignIn(testCtx(), Request{Identifier: "alice", Password: "wrong-password-1", CaptchaProof: goodProof})
	}
	signInOK(t, engine, "alice", testPassword)

	for i := 0; i < 4; i++ {
		_, err := engine.SignIn(testCtx(), Request{Identifier: "alice", Password: "wrong-password-1", CaptchaProof: goodProof})
		requireKind(t, err, ErrIncorrectUsernameOrPassword)
	}
}

func TestSignInForcedRotation(t *testing.T) {
	engine, env, done := newTestEngine(t, nil)
	defer done()

	res, err := engine.SignIn(testCtx(), Request{Identifier: "frank", Password: testPassword, CaptchaProof: goodProof})
	got := requireKind(t, err, ErrNewPasswordRequired)
	if !got.NeedsInput() {
		t.Fatal("expected NewPasswordRequired to be a need-more-input signal")
	}
	if res == nil || res.Progress[progress.StepCaptcha] == "" || res.Authenticated() {
		t.Fatalf("expected progress and no session, got %+v", res)
	}

	_, err = engine.SignIn(testCtx(), Request{Identifier: "frank", Password: testPassword, NewPassword: "short1", Progress: res.Progress})
	got = requireKind(t, err, ErrPasswordPolicyViolation)
	if !strings.Contains(got.Message, "too short") {
		t.Fatalf("expected failing rule in message, got %q", got.Message)
	}

	_, err = engine.SignIn(testCtx(), Request{Identifier: "frank", Password: testPassword, NewPassword: testPassword, Progress: res.Progress})
	requireKind(t, err, ErrPasswordPolicyViolation)

	const rotated = "Rotated-Secret-77"
	res, err = engine.SignIn(testCtx(), Request{Identifier: "frank", Password: testPassword, NewPassword: rotated, Progress: res.Progress})
	if err != nil {
		t.Fatalf("rotation sign-in failed: %v", err)
	}
	if !res.Authenticated() {
		t.Fatal("expected session after rotation")
	}

	rec, _ := env.store.Get(frankID)
	if rec.ForcePasswordChange {
		t.Fatal("expected forced-change flag to be cleared")
	}

	signInOK(t, engine, "frank", rotated)
	_, err = engine.SignIn(testCtx(), Request{Identifier: "frank", Password: testPassword, CaptchaProof: goodProof})
	requireKind(t, err, ErrIncorrectUsernameOrPassword)
}

func TestSignInUpgradesLegacyHash(t *testing.T) {
	engine, env, done := newTestEngine(t, nil)
	defer done()

	signInOK(t, engine, "grace", testPassword)

	rec, _ := env.store.Get(graceID)
	if !strings.HasPrefix(rec.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id rehash, got %q", rec.PasswordHash[:8])
	}
	signInOK(t, engine, "grace", testPassword)
}

func TestSignInCaptchaOutageIsInternal(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	_, err := New().
		WithConfig(testEngineConfig()).
		WithRedis(rdb).
		WithCredentialStore(nil).
		Build()
	if !errors.Is(err, ErrMissingCredentialStore) {
		t.Fatalf("expected ErrMissingCredentialStore, got %v", err)
	}

	store := newFixtureStore(t)
	engine, err := New().
		WithConfig(testEngineConfig()).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithCaptcha(failingScorer{}).
		WithDelivery(newCaptureSender()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	res, err := engine.SignIn(testCtx(), Request{Identifier: "alice", Password: testPassword, CaptchaProof: goodProof})
	requireKind(t, err, ErrInternalServerError)
	if res != nil {
		t.Fatal("expected no result on internal error")
	}
	if got := engine.MetricsSnapshot().Counters[MetricInternalError]; got != 1 {
		t.Fatalf("expected internal error to be counted once, got %d", got)
	}
}

func TestSignInStoreOutageIsInternal(t *testing.T) {
	engine, env, _ := newTestEngine(t, nil)
	defer engine.Close()

	env.mr.Close()

	res, err := engine.SignIn(testCtx(), Request{Identifier: "alice", Password: testPassword, CaptchaProof: goodProof})
	requireKind(t, err, ErrInternalServerError)
	if res != nil {
		t.Fatal("expected no result on internal error")
	}
	if strings.Contains(err.Error(), "redis") || strings.Contains(err.Error(), "ledger") {
		t.Fatalf("internal detail leaked: %q", err.Error())
	}
}

func TestSignInRecordsMetricsAndAudit(t *testing.T) {
	engine, env, done := newTestEngine(t, nil)
	defer done()

	_, _ = engine.SignIn(testCtx(), Request{Identifier: "alice", Password: "wrong-password-1", CaptchaProof: goodProof})
	signInOK(t, engine, "alice", testPassword)

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricSignInFailure] != 1 || snap.Counters[MetricSignInSuccess] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
	if snap.Counters[MetricSessionCreated] != 1 || snap.Counters[MetricCaptchaPassed] != 2 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}

	want := []string{"captcha_passed", "signin_failure", "captcha_passed", "signin_success"}
	for _, eventType := range want {
		select {
		case ev := <-env.audit.Events():
			if ev.EventType != eventType {
				t.Fatalf("expected %s, got %s", eventType, ev.EventType)
			}
			if ev.TenantID != testTenant || ev.IP != testClientIP {
				t.Fatalf("unexpected audit context %+v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestSignInNilEngine(t *testing.T) {
	var engine *Engine
	if _, err := engine.SignIn(testCtx(), Request{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestBuilderRequiresCaptchaWhenEnabled(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	_, err := New().
		WithConfig(testEngineConfig()).
		WithRedis(rdb).
		WithCredentialStore(newFixtureStore(t)).
		Build()
	if !errors.Is(err, ErrMissingCaptcha) {
		t.Fatalf("expected ErrMissingCaptcha, got %v", err)
	}

	b := New().
		WithConfig(testEngineConfig()).
		WithRedis(rdb).
		WithCredentialStore(newFixtureStore(t)).
		WithCaptcha(captcha.Static{Value: 1})
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("expected log-sender fallback outside production, got %v", err)
	}
	engine.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}
