package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/internal/resetlink"
	"github.com/MrEthical07/deskgate/internal/stores"
	"github.com/MrEthical07/deskgate/jwt"
	"github.com/MrEthical07/deskgate/otp"
	"github.com/MrEthical07/deskgate/password"
	"github.com/MrEthical07/deskgate/progress"
	"github.com/stretchr/testify/require"
)

var (
	errCredentials = errors.New("credentials")
	errLocked      = errors.New("locked")
	errNoRole      = errors.New("no role")
	errSecond      = errors.New("second factor")
	errNewPassword = errors.New("new password")
	errTokenEmail  = errors.New("token for email")
	errMaxOTP      = errors.New("max otp")
	errCaptcha     = errors.New("captcha")
	errResetToken  = errors.New("reset token")
	errTooMany     = errors.New("too many")
	errPolicy      = errors.New("policy")
	errSession     = errors.New("session")
)

type wrongOTP struct{ remaining int }

func (e wrongOTP) Error() string { return fmt.Sprintf("wrong otp, %d left", e.remaining) }

func testErrors() Errors {
	return Errors{
		IncorrectCredentials:  errCredentials,
		UserLocked:            errLocked,
		NoRole:                errNoRole,
		SecondFactorRequired:  errSecond,
		NewPasswordRequired:   errNewPassword,
		TokenForEmailRequired: errTokenEmail,
		MaxOTPAttempts:        errMaxOTP,
		CaptchaInvalid:        errCaptcha,
		IncorrectResetToken:   errResetToken,
		TooManyAttempts:       errTooMany,
		PolicyViolation:       errPolicy,
		SessionInvalid:        errSession,
		IncorrectOTP:          func(n int) error { return wrongOTP{remaining: n} },
	}
}

// countingLedger is an in-memory Ledger.
type countingLedger struct {
	mu      sync.Mutex
	ceiling int
	counts  map[string]int
	banned  map[string]bool
}

func newCountingLedger(ceiling int) *countingLedger {
	return &countingLedger{ceiling: ceiling, counts: map[string]int{}, banned: map[string]bool{}}
}

func (l *countingLedger) RecordAttempt(_ context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	left := l.ceiling - l.counts[key]
	if left <= 0 {
		l.banned[key] = true
		return 0, nil
	}
	return left, nil
}

func (l *countingLedger) IsBanned(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.banned[key], nil
}

func (l *countingLedger) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
	delete(l.banned, key)
	return nil
}

type fixedCode string

func (c fixedCode) Generate(int, string) (string, error) { return string(c), nil }

type recorder struct {
	mu     sync.Mutex
	events []Event
	codes  []string
}

func (r *recorder) emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) deliver(_ context.Context, _ *identity.Record, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

type fixture struct {
	deps  SignInDeps
	store *identity.MemoryStore
	rec   *recorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hasher, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	hash, err := hasher.Hash("Sturdy-Pass-1")
	require.NoError(t, err)

	store := identity.NewMemoryStore(
		identity.Record{ID: 1, TenantID: "t1", Username: "ann", Email: "ann@example.com", PasswordHash: hash, Active: true, Roles: []string{"agent"}},
		identity.Record{ID: 2, TenantID: "t1", Username: "ben", Email: "ben@example.com", PasswordHash: hash, Active: true, Locked: true, Roles: []string{"agent"}},
		identity.Record{ID: 3, TenantID: "t1", Username: "cat", Email: "cat@example.com", PasswordHash: hash, Active: true, ForcePasswordChange: true, Roles: []string{"agent"}},
	)

	codec, err := progress.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	require.NoError(t, err)
	passcodes, err := otp.NewService(otp.NewMemoryStore(), fixedCode("424242"), otp.Config{Digits: 6, TTL: time.Minute, MaxAttempts: 3})
	require.NoError(t, err)

	f := &fixture{store: store, rec: &recorder{}}
	f.deps = SignInDeps{
		Common: Common{
			Errors:    testErrors(),
			Store:     store,
			OTP:       passcodes,
			Progress:  codec,
			Hasher:    hasher,
			Policy:    password.DefaultPolicy(),
			OTPIssue:  newCountingLedger(3),
			OTPVerify: newCountingLedger(3),
			OTPDigits: 6,
			IssueSession: func(_ context.Context, rec *identity.Record) (*Issued, error) {
				return &Issued{Token: fmt.Sprintf("session-%d", rec.ID), Claims: &jwt.SessionClaims{UID: rec.ID}}, nil
			},
			DeliverOTP: f.rec.deliver,
			Emit:       f.rec.emit,
		},
		SignIn: newCountingLedger(5),
	}
	return f
}

func (f *fixture) request(identifier, pw string) Request {
	return Request{TenantID: "t1", ClientIP: "192.0.2.1", Identifier: identifier, Password: pw}
}

func TestRunSignInPlain(t *testing.T) {
	f := newFixture(t)

	out, err := RunSignIn(context.Background(), f.request("ann", "Sturdy-Pass-1"), f.deps)
	require.NoError(t, err)
	require.NotNil(t, out.Session)
	require.Equal(t, "session-1", out.Session.Token)
	require.Equal(t, []string{EventSignInSuccess}, f.rec.names())
}

func TestRunSignInRejectionsUseHostErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := RunSignIn(ctx, f.request("nobody", "Sturdy-Pass-1"), f.deps)
	require.ErrorIs(t, err, errCredentials)

	_, err = RunSignIn(ctx, f.request("ann", "wrong"), f.deps)
	require.ErrorIs(t, err, errCredentials)

	out, err := RunSignIn(ctx, f.request("ben", "wrong"), f.deps)
	require.ErrorIs(t, err, errLocked)
	require.Nil(t, out)
}

func TestRunSignInWaitsForFloor(t *testing.T) {
	f := newFixture(t)
	f.deps.EnumerationDelay = 80 * time.Millisecond

	start := time.Now()
	_, err := RunSignIn(context.Background(), f.request("nobody", "x"), f.deps)
	require.ErrorIs(t, err, errCredentials)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRunSignInFloorHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	f.deps.EnumerationDelay = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := RunSignIn(ctx, f.request("nobody", "x"), f.deps)
	require.ErrorIs(t, err, errCredentials)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRunSignInOTPRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.deps.RequireOTP = true
	ctx := context.Background()

	out, err := RunSignIn(ctx, f.request("ann", "Sturdy-Pass-1"), f.deps)
	require.ErrorIs(t, err, errSecond)
	require.NotNil(t, out)
	require.Equal(t, []string{"424242"}, f.rec.codes)

	req := f.request("ann", "Sturdy-Pass-1")
	req.OTPCode = "000000"
	_, err = RunSignIn(ctx, req, f.deps)
	var wrong wrongOTP
	require.ErrorAs(t, err, &wrong)
	require.Equal(t, 2, wrong.remaining)

	req.OTPCode = "424242"
	out, err = RunSignIn(ctx, req, f.deps)
	require.NoError(t, err)
	require.NotNil(t, out.Session)

	banned, err := f.deps.OTPVerify.IsBanned(ctx, ActorKey("t1", "192.0.2.1", "ann"))
	require.NoError(t, err)
	require.False(t, banned)
}

func TestRunSignInRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := RunSignIn(ctx, f.request("cat", "Sturdy-Pass-1"), f.deps)
	require.ErrorIs(t, err, errNewPassword)

	req := f.request("cat", "Sturdy-Pass-1")
	req.NewPassword = "nodigits-here"
	_, err = RunSignIn(ctx, req, f.deps)
	require.ErrorIs(t, err, errPolicy)

	req.NewPassword = "Brand-New-Pass-2"
	out, err := RunSignIn(ctx, req, f.deps)
	require.NoError(t, err)
	require.NotNil(t, out.Session)

	rec, ok := f.store.Get(3)
	require.True(t, ok)
	require.False(t, rec.ForcePasswordChange)
	require.Contains(t, f.rec.names(), EventPasswordRotated)
}

func TestActorKeyAndSubject(t *testing.T) {
	require.Equal(t, "t1|10.0.0.1|ann@example.com", ActorKey("t1", "10.0.0.1", " Ann@Example.com "))
	require.Equal(t, "t1|ann", Subject("t1", "ANN"))
	require.NotEqual(t, Subject("t1", "ann"), Subject("t2", "ann"))
}

// stuckLedger counts like countingLedger but cannot be cleared.
type stuckLedger struct{ *countingLedger }

func (stuckLedger) Reset(context.Context, string) error { return errors.New("ledger backend down") }

// memoryResets is an in-memory ResetRecords.
type memoryResets struct {
	mu   sync.Mutex
	recs map[string]stores.ResetTokenRecord
}

func (m *memoryResets) Save(_ context.Context, tenantID string, r *stores.ResetTokenRecord, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[tenantID+"|"+r.UserID] = *r
	return nil
}

func (m *memoryResets) Verify(_ context.Context, tenantID, userID string, hash [32]byte, _ int) (*stores.ResetTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[tenantID+"|"+userID]
	if !ok {
		return nil, stores.ErrResetNotFound
	}
	if r.SecretHash != hash {
		return nil, stores.ErrResetSecretMismatch
	}
	r.Verified = true
	m.recs[tenantID+"|"+userID] = r
	return &r, nil
}

func (m *memoryResets) Consume(_ context.Context, tenantID, userID string) (*stores.ResetTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[tenantID+"|"+userID]
	if !ok {
		return nil, stores.ErrResetNotFound
	}
	if !r.Verified {
		return nil, stores.ErrResetNotVerified
	}
	delete(m.recs, tenantID+"|"+userID)
	return &r, nil
}

func TestRunPasswordResetReportsCleanupFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sealer, err := resetlink.NewSealer([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		sealed   string
		warnings []string
	)
	common := f.deps.Common
	common.OTPIssue = stuckLedger{newCountingLedger(3)}
	common.OTPVerify = stuckLedger{newCountingLedger(3)}
	common.Warn = func(_ context.Context, msg string, _ ...any) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, msg)
	}
	deps := PasswordResetDeps{
		Common:      common,
		TokenTTL:    time.Minute,
		MaxAttempts: 3,
		ResetIssue:  newCountingLedger(5),
		ResetVerify: newCountingLedger(5),
		Records:     &memoryResets{recs: map[string]stores.ResetTokenRecord{}},
		Sealer:      sealer,
		DeliverResetToken: func(_ context.Context, _ *identity.Record, token string) {
			mu.Lock()
			defer mu.Unlock()
			sealed = token
		},
	}

	req := Request{TenantID: "t1", ClientIP: "192.0.2.1", Identifier: "ann@example.com"}
	_, err = RunPasswordReset(ctx, req, deps)
	require.ErrorIs(t, err, errTokenEmail)
	require.NotEmpty(t, sealed)

	req.ResetToken = sealed
	req.NewPassword = "Brand-New-Pass-2"
	out, err := RunPasswordReset(ctx, req, deps)
	require.NoError(t, err, "cleanup failures must not fail a completed reset")
	require.NotNil(t, out.Session)

	require.Equal(t, []string{"ledger reset failed", "ledger reset failed"}, warnings)
}

func TestRunSignInReportsTighterOTPBudget(t *testing.T) {
	f := newFixture(t)
	f.deps.RequireOTP = true
	passcodes, err := otp.NewService(otp.NewMemoryStore(), fixedCode("424242"), otp.Config{Digits: 6, TTL: time.Minute, MaxAttempts: 2})
	require.NoError(t, err)
	f.deps.OTP = passcodes
	f.deps.OTPVerify = newCountingLedger(5)
	ctx := context.Background()

	_, err = RunSignIn(ctx, f.request("ann", "Sturdy-Pass-1"), f.deps)
	require.ErrorIs(t, err, errSecond)

	req := f.request("ann", "Sturdy-Pass-1")
	req.OTPCode = "000000"
	_, err = RunSignIn(ctx, req, f.deps)
	var wrong wrongOTP
	require.ErrorAs(t, err, &wrong)
	require.Equal(t, 1, wrong.remaining, "the code's own budget is tighter than the ledger's")

	_, err = RunSignIn(ctx, req, f.deps)
	require.ErrorIs(t, err, errMaxOTP)

	req.OTPCode = "424242"
	_, err = RunSignIn(ctx, req, f.deps)
	require.Error(t, err, "an exhausted code must not validate")
}
