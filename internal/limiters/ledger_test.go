package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLedgerDefaults(t *testing.T) {
	_, rdb := newTestRedis(t)

	cases := []struct {
		ledger  *Ledger
		scope   string
		ceiling int
	}{
		{NewOTPIssueLedger(rdb, LedgerConfig{}), "otp-issue", 3},
		{NewOTPVerifyLedger(rdb, LedgerConfig{}), "otp-verify", 3},
		{NewResetIssueLedger(rdb, LedgerConfig{}), "reset-issue", 5},
		{NewResetVerifyLedger(rdb, LedgerConfig{}), "reset-verify", 5},
		{NewSignInLedger(rdb, LedgerConfig{}), "signin", 5},
	}
	for _, tc := range cases {
		if tc.ledger.Scope() != tc.scope || tc.ledger.Ceiling() != tc.ceiling {
			t.Fatalf("unexpected defaults: scope=%q ceiling=%d", tc.ledger.Scope(), tc.ledger.Ceiling())
		}
		if tc.ledger.policy.Ban != 300*time.Second {
			t.Fatalf("expected 300s default ban, got %s", tc.ledger.policy.Ban)
		}
	}
}

func TestLedgerBansAtCeilingAndResets(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	l := NewOTPIssueLedger(rdb, LedgerConfig{})
	actor := "0|10.0.0.1|bob"

	for _, want := range []int{2, 1, 0} {
		got, err := l.RecordAttempt(ctx, actor)
		if err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d remaining, got %d", want, got)
		}
	}
	banned, err := l.IsBanned(ctx, actor)
	if err != nil || !banned {
		t.Fatalf("expected ban after ceiling, got %v err=%v", banned, err)
	}

	// Every call during the ban still consumes budget and keeps reporting zero.
	got, err := l.RecordAttempt(ctx, actor)
	if err != nil || got != 0 {
		t.Fatalf("expected 0 remaining while banned, got %d err=%v", got, err)
	}

	if err := l.Reset(ctx, actor); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	banned, _ = l.IsBanned(ctx, actor)
	if banned {
		t.Fatalf("expected ban cleared after reset")
	}
	remaining, err := l.RecordAttempt(ctx, actor)
	if err != nil || remaining != 2 {
		t.Fatalf("expected a fresh budget after reset, got %d err=%v", remaining, err)
	}
}

func TestLedgerScopesAreIndependent(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	issue := NewOTPIssueLedger(rdb, LedgerConfig{Ceiling: 1})
	verify := NewOTPVerifyLedger(rdb, LedgerConfig{})

	if _, err := issue.RecordAttempt(ctx, "a"); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if banned, _ := issue.IsBanned(ctx, "a"); !banned {
		t.Fatalf("expected issue scope banned")
	}
	if banned, _ := verify.IsBanned(ctx, "a"); banned {
		t.Fatalf("verify scope must not inherit issue ban")
	}
}

func TestNilLedgerIsInert(t *testing.T) {
	var l *Ledger
	ctx := context.Background()
	if _, err := l.RecordAttempt(ctx, "a"); err != nil {
		t.Fatalf("nil RecordAttempt: %v", err)
	}
	if banned, err := l.IsBanned(ctx, "a"); banned || err != nil {
		t.Fatalf("nil IsBanned: %v %v", banned, err)
	}
	if err := l.Reset(ctx, "a"); err != nil {
		t.Fatalf("nil Reset: %v", err)
	}
}

func TestLedgerBackendFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewSignInLedger(rdb, LedgerConfig{})
	mr.Close()

	if _, err := l.RecordAttempt(context.Background(), "a"); !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if _, err := l.IsBanned(context.Background(), "a"); !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}
