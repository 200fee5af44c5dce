package otp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/deskgate/internal/stores"
	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store.
type RedisStore struct {
	inner *stores.OTPStore
}

// NewRedisStore keys codes under prefix (default "dgotp").
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{inner: stores.NewOTPStore(redisClient, prefix)}
}

func (r *RedisStore) Put(ctx context.Context, actorKey, code string, ttl time.Duration) error {
	if err := r.inner.Put(ctx, actorKey, code, ttl); errors.Is(err, stores.ErrOTPReused) {
		return ErrCodeReused
	} else if err != nil {
		return err
	}
	return nil
}

func (r *RedisStore) Check(ctx context.Context, actorKey, code string, maxAttempts int) (bool, int, error) {
	ok, used, err := r.inner.Check(ctx, actorKey, code, maxAttempts)
	if errors.Is(err, stores.ErrOTPNotFound) {
		return false, 0, ErrNoLiveCode
	}
	return ok, used, err
}

func (r *RedisStore) Delete(ctx context.Context, actorKey string) error {
	return r.inner.Delete(ctx, actorKey)
}

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	code      string
	attempts  int
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord), now: time.Now}
}

func (m *MemoryStore) Put(_ context.Context, actorKey, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[actorKey]; ok && r.code == code && m.now().Before(r.expiresAt) {
		return ErrCodeReused
	}
	m.records[actorKey] = &memoryRecord{code: code, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Check(_ context.Context, actorKey, code string, maxAttempts int) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[actorKey]
	if !ok || !m.now().Before(r.expiresAt) {
		delete(m.records, actorKey)
		return false, 0, ErrNoLiveCode
	}
	if r.code == code {
		delete(m.records, actorKey)
		return true, 0, nil
	}
	r.attempts++
	if r.attempts >= maxAttempts {
		delete(m.records, actorKey)
	}
	return false, r.attempts, nil
}

func (m *MemoryStore) Delete(_ context.Context, actorKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, actorKey)
	return nil
}
