package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy describes one ledger scope.
type Policy struct {
	Scope   string
	Ceiling int
	Ban     time.Duration
}

// Validate reports whether the policy can be enforced.
func (p Policy) Validate() error {
	if p.Scope == "" || p.Ceiling <= 0 || p.Ban <= 0 {
		return fmt.Errorf("%w: scope=%q ceiling=%d ban=%s", ErrInvalidPolicy, p.Scope, p.Ceiling, p.Ban)
	}
	return nil
}

// Limiter counts attempts per scope and actor in Redis.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient}
}

// hitScript increments the counter, opens the window on the first hit and
// arms the ban once the ceiling is reached. The counter lives as long as the
// ban so it only resets when the ban window has elapsed.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n >= tonumber(ARGV[1]) then
  if redis.call('EXISTS', KEYS[2]) == 0 then
    redis.call('SET', KEYS[2], '1', 'PX', ARGV[2])
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
  end
end
return n
`)

// Hit records one attempt and returns how many remain before the ban.
// When the attempt exhausts the budget it returns 0 and ErrBanned.
func (l *Limiter) Hit(ctx context.Context, p Policy, actor string) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	ms := strconv.FormatInt(p.Ban.Milliseconds(), 10)
	n, err := hitScript.Run(ctx, l.redis, []string{counterKey(p.Scope, actor), banKey(p.Scope, actor)}, p.Ceiling, ms).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	remaining := int64(p.Ceiling) - n
	if remaining <= 0 {
		return 0, ErrBanned
	}
	return int(remaining), nil
}

// Banned reports whether the ban marker for actor is live.
func (l *Limiter) Banned(ctx context.Context, p Policy, actor string) (bool, error) {
	n, err := l.redis.Exists(ctx, banKey(p.Scope, actor)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Remaining returns the unused budget without recording an attempt.
func (l *Limiter) Remaining(ctx context.Context, p Policy, actor string) (int, error) {
	count, err := l.redis.Get(ctx, counterKey(p.Scope, actor)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return p.Ceiling, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(p.Ceiling) {
		return 0, nil
	}
	return p.Ceiling - int(count), nil
}

// Clear drops both the counter and the ban marker.
func (l *Limiter) Clear(ctx context.Context, p Policy, actor string) error {
	if err := l.redis.Del(ctx, counterKey(p.Scope, actor), banKey(p.Scope, actor)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func counterKey(scope, actor string) string {
	return "dgb:" + scope + ":" + actor
}

func banKey(scope, actor string) string {
	return "dgbn:" + scope + ":" + actor
}
