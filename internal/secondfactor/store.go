package secondfactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps codes under <prefix>:<user> with the attempt counter
// beside it, both expiring together.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "attendance:2fa"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) codeKey(userID string) string     { return r.prefix + ":" + userID }
func (r *RedisStore) attemptsKey(userID string) string { return r.prefix + ":" + userID + ":attempts" }

func (r *RedisStore) Save(ctx context.Context, userID, code string, ttl time.Duration) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.codeKey(userID), code, ttl)
		p.Set(ctx, r.attemptsKey(userID), 0, ttl)
		return nil
	})
	return err
}

func (r *RedisStore) Load(ctx context.Context, userID string) (string, error) {
	code, err := r.client.Get(ctx, r.codeKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoChallenge
	}
	return code, err
}

func (r *RedisStore) Incr(ctx context.Context, userID string) (int64, error) {
	return r.client.Incr(ctx, r.attemptsKey(userID)).Result()
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.codeKey(userID), r.attemptsKey(userID)).Err()
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	code     string
	attempts int64
	expires  time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry), now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, userID, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = &memEntry{code: code, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) live(userID string) *memEntry {
	e, ok := m.entries[userID]
	if !ok {
		return nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, userID)
		return nil
	}
	return e
}

func (m *MemoryStore) Load(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(userID)
	if e == nil {
		return "", ErrNoChallenge
	}
	return e.code, nil
}

func (m *MemoryStore) Incr(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(userID)
	if e == nil {
		return 0, ErrNoChallenge
	}
	e.attempts++
	return e.attempts, nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}
