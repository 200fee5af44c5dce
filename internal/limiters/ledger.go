package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/deskgate/internal/rate"
	"github.com/redis/go-redis/v9"
)

const defaultBan = 300 * time.Second

var (
	// ErrLedgerUnavailable indicates the ledger backend is unreachable.
	ErrLedgerUnavailable = errors.New("ban ledger unavailable")
)

// LedgerConfig holds the ceiling and ban window of one scope.
type LedgerConfig struct {
	Ceiling int
	Ban     time.Duration
}

// Ledger tracks attempts for one scope keyed by actor identity.
// A nil Ledger never bans and records nothing.
type Ledger struct {
	limiter *rate.Limiter
	policy  rate.Policy
}

func newLedger(redisClient redis.UniversalClient, scope string, defaultCeiling int, cfg LedgerConfig) *Ledger {
	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = defaultCeiling
	}
	ban := cfg.Ban
	if ban <= 0 {
		ban = defaultBan
	}
	return &Ledger{
		limiter: rate.New(redisClient),
		policy:  rate.Policy{Scope: scope, Ceiling: ceiling, Ban: ban},
	}
}

// Scope returns the ledger's key namespace.
func (l *Ledger) Scope() string {
	if l == nil {
		return ""
	}
	return l.policy.Scope
}

// Ceiling returns the configured attempt budget.
func (l *Ledger) Ceiling() int {
	if l == nil {
		return 0
	}
	return l.policy.Ceiling
}

// RecordAttempt consumes one attempt and returns the remaining budget.
// Reaching zero arms the ban; the returned count is then 0 with a nil error.
func (l *Ledger) RecordAttempt(ctx context.Context, actorKey string) (int, error) {
	if l == nil {
		return 1, nil
	}
	remaining, err := l.limiter.Hit(ctx, l.policy, actorKey)
	if err != nil {
		if errors.Is(err, rate.ErrBanned) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return remaining, nil
}

// IsBanned reports whether actorKey is inside a ban window.
func (l *Ledger) IsBanned(ctx context.Context, actorKey string) (bool, error) {
	if l == nil {
		return false, nil
	}
	banned, err := l.limiter.Banned(ctx, l.policy, actorKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return banned, nil
}

// Reset clears the counter and any live ban.
func (l *Ledger) Reset(ctx context.Context, actorKey string) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Clear(ctx, l.policy, actorKey); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return nil
}
