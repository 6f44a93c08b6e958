package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker records logged-out session ids until their tokens would expire.
type Revoker interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevoker keeps revocations in process memory. They are lost on
// restart.
type MemoryRevoker struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevoker returns an empty MemoryRevoker.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{entries: make(map[string]time.Time), now: time.Now}
}

// Revoke marks jti revoked until the given time.
func (m *MemoryRevoker) Revoke(_ context.Context, jti string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, id)
		}
	}
	if until.After(now) {
		m.entries[jti] = until
	}
	return nil
}

// IsRevoked reports whether jti is revoked.
func (m *MemoryRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[jti]
	return ok && exp.After(m.now()), nil
}

// RedisKeyPrefix namespaces revocation keys.
const RedisKeyPrefix = "hyservers:revoked:"

// RedisRevoker stores revocations as expiring Redis keys so they survive
// restarts and are shared between instances.
type RedisRevoker struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisRevoker returns a RedisRevoker using client.
func NewRedisRevoker(client redis.UniversalClient) *RedisRevoker {
	return &RedisRevoker{client: client, now: time.Now}
}

// Revoke stores jti with a TTL reaching until.
func (r *RedisRevoker) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, RedisKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("auth: redis revoke: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti has a live revocation key.
func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := r.client.Get(ctx, RedisKeyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: redis lookup: %w", err)
	}
	return true, nil
}

var (
	_ Revoker = (*MemoryRevoker)(nil)
	_ Revoker = (*RedisRevoker)(nil)
)
