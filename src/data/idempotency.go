package data

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyTTL bounds how long a creation key is remembered.
const IdempotencyTTL = 24 * time.Hour

const pendingMarker = "pending"

// ErrInFlight means another request holding the same key has not finished.
var ErrInFlight = errors.New("request with this idempotency key is still in progress")

// Idempotency maps client keys to the id of the resource they created.
type Idempotency interface {
	// Claim reserves key. When the key already resolved, existing is the stored id.
	Claim(ctx context.Context, key string) (existing string, err error)
	// Resolve records the id produced for a claimed key.
	Resolve(ctx context.Context, key, id string) error
	// Release forgets a claimed key after a failed attempt.
	Release(ctx context.Context, key string) error
}

// NewIdempotency uses Redis when rdb is set, an in-process map otherwise.
func NewIdempotency(rdb *redis.Client) Idempotency {
	if rdb != nil {
		return &redisIdempotency{rdb: rdb}
	}
	return &memoryIdempotency{entries: make(map[string]memEntry), now: time.Now}
}

type redisIdempotency struct{ rdb *redis.Client }

func (r *redisIdempotency) Claim(ctx context.Context, key string) (string, error) {
	ok, err := r.rdb.SetNX(ctx, idempotencyPrefix+key, pendingMarker, IdempotencyTTL).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	v, err := r.rdb.Get(ctx, idempotencyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return r.Claim(ctx, key)
	}
	if err != nil {
		return "", err
	}
	if v == pendingMarker {
		return "", ErrInFlight
	}
	return v, nil
}

func (r *redisIdempotency) Resolve(ctx context.Context, key, id string) error {
	return r.rdb.Set(ctx, idempotencyPrefix+key, id, IdempotencyTTL).Err()
}

func (r *redisIdempotency) Release(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, idempotencyPrefix+key).Err()
}

type memEntry struct {
	value   string
	expires time.Time
}

type memoryIdempotency struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func (m *memoryIdempotency) Claim(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		if e.value == pendingMarker {
			return "", ErrInFlight
		}
		return e.value, nil
	}
	m.entries[key] = memEntry{value: pendingMarker, expires: now.Add(IdempotencyTTL)}
	return "", nil
}

func (m *memoryIdempotency) Resolve(_ context.Context, key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: id, expires: m.now().Add(IdempotencyTTL)}
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
