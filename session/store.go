package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRedisUnavailable = errors.New("redis unavailable")
	ErrSessionNotFound  = errors.New("session not found")
)

// deleteScript removes the session and its index entry. KEYS: session,
// user index. ARGV: session id.
var deleteScript = redis.NewScript(`
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`)

// rotateScript swaps the old session for the new one only if the old one is
// still live, so two concurrent refreshes cannot both succeed.
// KEYS: old session, new session, user index. ARGV: old id, new id, new blob, ttl ms.
var rotateScript = redis.NewScript(`
if redis.call("DEL", KEYS[1]) == 0 then
  return 0
end
redis.call("SREM", KEYS[3], ARGV[1])
redis.call("SET", KEYS[2], ARGV[3], "PX", ARGV[4])
redis.call("SADD", KEYS[3], ARGV[2])
return 1
`)

// deleteAllScript drops every session indexed for a user and the index
// itself in one step. KEYS: user index. ARGV: session key prefix.
var deleteAllScript = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  n = n + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return n
`)

// Store is the Redis allow-list of live sessions, indexed per user so a
// password reset can revoke them all.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store]. prefix sets the key namespace.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "dgs"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) sessionPrefix(tenantID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":"
}

func (s *Store) key(tenantID, sessionID string) string {
	return s.sessionPrefix(tenantID) + sessionID
}

func (s *Store) userKey(tenantID, userID string) string {
	return s.prefix + "u:" + normalizeTenantID(tenantID) + ":" + userID
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Save persists sess with the given TTL and indexes it under its user.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	userKey := s.userKey(sess.TenantID, sess.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.TenantID, sess.SessionID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the live session or ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID
	if sess.ExpiresAt <= time.Now().Unix() {
		_ = s.Delete(ctx, tenantID, sess.UserID, sessionID)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes one session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, tenantID, userID, sessionID string) error {
	err := deleteScript.Run(ctx, s.redis,
		[]string{s.key(tenantID, sessionID), s.userKey(tenantID, userID)},
		sessionID,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Rotate atomically replaces old with next. It fails with
// ErrSessionNotFound when old was already revoked or rotated.
func (s *Store) Rotate(ctx context.Context, old, next *Session, ttl time.Duration) error {
	data, err := Encode(next)
	if err != nil {
		return err
	}
	n, err := rotateScript.Run(ctx, s.redis,
		[]string{
			s.key(old.TenantID, old.SessionID),
			s.key(next.TenantID, next.SessionID),
			s.userKey(next.TenantID, next.UserID),
		},
		old.SessionID, next.SessionID, data, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteAllForUser revokes every session of a user in a tenant and returns
// how many were live.
func (s *Store) DeleteAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	n, err := deleteAllScript.Run(ctx, s.redis,
		[]string{s.userKey(tenantID, userID)},
		s.sessionPrefix(tenantID),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// ActiveSessionIDs lists the indexed session ids for a user.
func (s *Store) ActiveSessionIDs(ctx context.Context, tenantID, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping measures a Redis round trip.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
