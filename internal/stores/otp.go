package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPNotFound         = errors.New("otp record not found")
	ErrOTPReused           = errors.New("otp equals the live code")
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
)

// OTPStore keeps one live passcode per actor identity as a Redis hash of
// {code digest, creation time, attempts}.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "dgotp"
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *OTPStore) key(actorKey string) string {
	return s.prefix + ":" + actorKey
}

// putScript replaces the live record unless it already holds ARGV[1];
// it returns 0 in that case and leaves the record untouched.
var putScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'code')
if stored and stored == ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'code', ARGV[1], 'created', ARGV[2], 'attempts', 0)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Put replaces any previous code for actorKey atomically, so concurrent
// issuers leave exactly one live code. Re-arming the code that is already
// live returns ErrOTPReused: a reissue must not extend an old code.
func (s *OTPStore) Put(ctx context.Context, actorKey, code string, ttl time.Duration) error {
	n, err := putScript.Run(ctx, s.redis, []string{s.key(actorKey)},
		digestCode(code), strconv.FormatInt(time.Now().Unix(), 10), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	if n == 0 {
		return ErrOTPReused
	}
	return nil
}

// checkScript returns -1 when no record exists, 0 on match (record
// deleted), otherwise the attempts used so far. The record is deleted once
// attempts reach ARGV[2].
var checkScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'code')
if not stored then
  return -1
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 0
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if n >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
end
return n
`)

// Check validates code for actorKey. It returns (true, 0) on success and
// (false, used) on mismatch. ErrOTPNotFound means nothing is live.
func (s *OTPStore) Check(ctx context.Context, actorKey, code string, maxAttempts int) (bool, int, error) {
	n, err := checkScript.Run(ctx, s.redis, []string{s.key(actorKey)}, digestCode(code), maxAttempts).Int()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	switch {
	case n < 0:
		return false, 0, ErrOTPNotFound
	case n == 0:
		return true, 0, nil
	default:
		return false, n, nil
	}
}

// Delete drops the live code for actorKey.
func (s *OTPStore) Delete(ctx context.Context, actorKey string) error {
	if err := s.redis.Del(ctx, s.key(actorKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

func digestCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
