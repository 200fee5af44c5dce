package otp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultDigits      = 6
	defaultTTL         = 270 * time.Second
	defaultMaxAttempts = 3
)

var (
	// ErrNoLiveCode means nothing was issued, or the code expired or was used.
	ErrNoLiveCode = errors.New("no live passcode")
	// ErrCodeReused is returned by Store.Put when code equals the live code.
	// The live record is left as it was.
	ErrCodeReused = errors.New("passcode equals the live code")
	// ErrUnavailable wraps store and generator failures.
	ErrUnavailable = errors.New("passcode backend unavailable")
)

// Store persists at most one code per actor key.
type Store interface {
	// Put replaces any live code for actorKey. It returns ErrCodeReused,
	// without writing, when code equals the live code.
	Put(ctx context.Context, actorKey, code string, ttl time.Duration) error
	// Check consumes the code on match. On mismatch it returns the number of
	// attempts used and drops the code once maxAttempts is reached. It
	// returns ErrNoLiveCode when nothing is stored.
	Check(ctx context.Context, actorKey, code string, maxAttempts int) (bool, int, error)
	Delete(ctx context.Context, actorKey string) error
}

// Config tunes code shape and lifetime. Zero values take the defaults:
// 6 digits, 270s, 3 attempts.
type Config struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// Result is the outcome of Validate.
type Result struct {
	OK        bool
	Remaining int
}

// Service issues and validates codes.
type Service struct {
	store     Store
	generator Generator
	config    Config
}

// NewService wires a store and generator. A nil generator uses
// [RandomGenerator].
func NewService(store Store, generator Generator, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("otp store required")
	}
	if generator == nil {
		generator = RandomGenerator{}
	}
	if cfg.Digits <= 0 {
		cfg.Digits = defaultDigits
	}
	if cfg.Digits < 4 || cfg.Digits > 10 {
		return nil, fmt.Errorf("otp digits must be within 4..10, got %d", cfg.Digits)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Service{store: store, generator: generator, config: cfg}, nil
}

// Digits returns the configured code length.
func (s *Service) Digits() int {
	return s.config.Digits
}

// TTL returns how long an issued code stays live.
func (s *Service) TTL() time.Duration {
	return s.config.TTL
}

// Issue mints a code for actorKey, replacing any previous one. secret is
// the user's MFA seed and may be empty. When the generator repeats the live
// code, as a TOTP generator does within one time step, a random code is
// issued instead so the earlier code stops validating.
func (s *Service) Issue(ctx context.Context, actorKey, secret string) (string, error) {
	code, err := s.generator.Generate(s.config.Digits, secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	err = s.store.Put(ctx, actorKey, code, s.config.TTL)
	for attempt := 0; errors.Is(err, ErrCodeReused) && attempt < 3; attempt++ {
		if code, err = (RandomGenerator{}).Generate(s.config.Digits, ""); err != nil {
			break
		}
		err = s.store.Put(ctx, actorKey, code, s.config.TTL)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return code, nil
}

// Validate checks code against the live code for actorKey. A match
// destroys the code. ErrNoLiveCode is returned when nothing is live.
func (s *Service) Validate(ctx context.Context, actorKey, code string) (Result, error) {
	if !s.WellFormed(code) {
		// Malformed input still burns an attempt.
		code = "malformed:" + code
	}
	ok, used, err := s.store.Check(ctx, actorKey, code, s.config.MaxAttempts)
	if err != nil {
		if errors.Is(err, ErrNoLiveCode) {
			return Result{}, ErrNoLiveCode
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok {
		return Result{OK: true}, nil
	}
	remaining := s.config.MaxAttempts - used
	if remaining < 0 {
		remaining = 0
	}
	return Result{Remaining: remaining}, nil
}

// Invalidate drops any live code for actorKey.
func (s *Service) Invalidate(ctx context.Context, actorKey string) error {
	if err := s.store.Delete(ctx, actorKey); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// WellFormed reports whether code is all digits of the configured length.
func (s *Service) WellFormed(code string) bool {
	if len(code) != s.config.Digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
