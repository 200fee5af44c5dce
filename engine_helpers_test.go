package deskgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/deskgate/captcha"
	"github.com/MrEthical07/deskgate/delivery"
	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	testTenant   = "acme"
	testClientIP = "203.0.113.7"
	testPassword = "Correct-Horse-42"
	goodProof    = "proof-ok"
	badProof     = "proof-bad"
)

// Fixture user ids.
const (
	aliceID int64 = iota + 1
	bobID
	carolID
	daveID
	erinID
	frankID
	adminID
	graceID
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

type delivered struct {
	to    delivery.Destination
	value string
}

// captureSender records every message; fail makes every send return it.
type captureSender struct {
	otps   chan delivered
	resets chan delivered
	fail   error
}

func newCaptureSender() *captureSender {
	return &captureSender{
		otps:   make(chan delivered, 32),
		resets: make(chan delivered, 32),
	}
}

func (s *captureSender) SendOTP(_ context.Context, to delivery.Destination, code string) error {
	if s.fail != nil {
		return s.fail
	}
	s.otps <- delivered{to: to, value: code}
	return nil
}

func (s *captureSender) SendResetToken(_ context.Context, to delivery.Destination, token string) error {
	if s.fail != nil {
		return s.fail
	}
	s.resets <- delivered{to: to, value: token}
	return nil
}

func (s *captureSender) nextOTP(t *testing.T) delivered {
	t.Helper()
	select {
	case d := <-s.otps:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for otp delivery")
		return delivered{}
	}
}

func (s *captureSender) nextReset(t *testing.T) delivered {
	t.Helper()
	select {
	case d := <-s.resets:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reset token delivery")
		return delivered{}
	}
}

// sequenceGenerator hands out 111111, 222222, ... so tests know every code.
type sequenceGenerator struct {
	mu sync.Mutex
	n  int
}

func (g *sequenceGenerator) Generate(digits int, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	d := byte('0' + g.n%10)
	b := make([]byte, digits)
	for i := range b {
		b[i] = d
	}
	return string(b), nil
}

func codeFor(n int) string {
	return fmt.Sprintf("%d%d%d%d%d%d", n, n, n, n, n, n)
}

// failingScorer simulates an unreachable CAPTCHA service.
type failingScorer struct{}

func (failingScorer) Score(context.Context, string, string) (captcha.Verdict, error) {
	return captcha.Verdict{}, errors.New("captcha upstream timeout")
}

var (
	fixtureOnce sync.Once
	fixtureHash string
	legacyHash  string
	fixtureErr  error
)

func fixtureHashes(t *testing.T) (string, string) {
	t.Helper()
	fixtureOnce.Do(func() {
		h, err := password.NewHasher(password.Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		})
		if err != nil {
			fixtureErr = err
			return
		}
		if fixtureHash, fixtureErr = h.Hash(testPassword); fixtureErr != nil {
			return
		}
		b, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
		legacyHash, fixtureErr = string(b), err
	})
	if fixtureErr != nil {
		t.Fatalf("fixture hashing failed: %v", fixtureErr)
	}
	return fixtureHash, legacyHash
}

func fixtureUsers(t *testing.T) []identity.Record {
	t.Helper()
	hash, legacy := fixtureHashes(t)
	agent := []string{"agent"}

	user := func(id int64, name string) identity.Record {
		return identity.Record{
			ID:           id,
			TenantID:     testTenant,
			Username:     name,
			Email:        name + "@acme.test",
			DisplayName:  name,
			PasswordHash: hash,
			Active:       true,
			Roles:        agent,
			Permissions:  []string{"tickets.read"},
		}
	}

	alice := user(aliceID, "alice")
	bob := user(bobID, "bob")
	bob.Mobile = "+15550100"
	carol := user(carolID, "carol")
	carol.Locked = true
	dave := user(daveID, "dave")
	dave.Active = false
	erin := user(erinID, "erin")
	erin.Roles = nil
	frank := user(frankID, "frank")
	frank.ForcePasswordChange = true
	admin := user(adminID, "admin")
	admin.Roles = []string{"admin"}
	grace := user(graceID, "grace")
	grace.PasswordHash = legacy

	return []identity.Record{alice, bob, carol, dave, erin, frank, admin, grace}
}

func newFixtureStore(t *testing.T) *identity.MemoryStore {
	t.Helper()
	return identity.NewMemoryStore(fixtureUsers(t)...)
}

type testEnv struct {
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	store  *identity.MemoryStore
	sender *captureSender
	audit  *ChannelSink
}

func testEngineConfig() Config {
	cfg := validTestConfig()
	cfg.Security.EnumerationDelay = 0
	cfg.SignIn.RequireOTP = false
	cfg.Metrics.Enabled = true
	cfg.Audit.Enabled = true
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *testEnv, func()) {
	t.Helper()

	cfg := testEngineConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		mr:     mr,
		rdb:    rdb,
		store:  newFixtureStore(t),
		sender: newCaptureSender(),
		audit:  NewChannelSink(256),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(env.store).
		WithCaptcha(captcha.Static{Value: 0.9, Reject: badProof}).
		WithDelivery(env.sender).
		WithOTPGenerator(&sequenceGenerator{}).
		WithAuditSink(env.audit).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	done := func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
	return engine, env, done
}

func testCtx() context.Context {
	ctx := WithTenantID(context.Background(), testTenant)
	return WithClientIP(ctx, testClientIP)
}

func requireKind(t *testing.T, err error, want *Error) *Error {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Kind, err)
	}
	var got *Error
	if !errors.As(err, &got) {
		t.Fatalf("expected *Error, got %T", err)
	}
	return got
}

func signInOK(t *testing.T, engine *Engine, identifier, pw string) *Result {
	t.Helper()
	res, err := engine.SignIn(testCtx(), Request{Identifier: identifier, Password: pw, CaptchaProof: goodProof})
	if err != nil {
		t.Fatalf("SignIn(%s) failed: %v", identifier, err)
	}
	if !res.Authenticated() {
		t.Fatalf("expected session for %s", identifier)
	}
	return res
}
