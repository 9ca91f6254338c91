// Package cache provides a small injected key/value cache used for
// externally-resolved identifiers (e.g. processor price ids), replacing
// process-global mutable maps so lookups stay testable and safe across
// concurrent workers.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/campuskit-io/campuskit-backend/pkg/redis"
)

// Store is the minimal get/put surface services depend on.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Memory is an in-process Store with per-entry expiry.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemory builds an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached value when present and unexpired.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Put stores a value; ttl <= 0 means no expiry.
func (m *Memory) Put(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

// Redis is a shared Store backed by the platform redis client.
type Redis struct {
	client *redis.Client
	scope  string
}

// NewRedis builds a redis-backed store namespaced under scope.
func NewRedis(client *redis.Client, scope string) *Redis {
	return &Redis{client: client, scope: scope}
}

// Get returns the cached value when present.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.client.CacheKey(r.scope, key))
	if err != nil {
		if redis.IsNil(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Put stores a value with the provided TTL.
func (r *Redis) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.client.CacheKey(r.scope, key), value, ttl)
}
