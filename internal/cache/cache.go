// Package cache stores rendered date-range responses so repeated calendar
// navigation does not re-run the query and expansion.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pefsched/internal/config"
	appLog "pefsched/internal/log"
)

// Cache is a byte-oriented response cache. Invalidate drops every entry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Invalidate(ctx context.Context) error
}

// New builds the cache selected by cfg.Backend.
func New(cfg config.CacheConfig) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		appLog.Info("response cache: memory", "ttl", cfg.TTL.String())
		return NewMemory(cfg.TTL), nil
	case "redis":
		c, err := NewRedis(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.KeyPrefix,
			TTL:      cfg.TTL,
		})
		if err != nil {
			return nil, err
		}
		appLog.Info("response cache: redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.TTL.String())
		return c, nil
	case "none", "off":
		appLog.Info("response cache disabled")
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

type memoryEntry struct {
	val       []byte
	updatedAt time.Time
}

// Memory is an in-process cache with a fixed TTL.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemory returns a memory cache. A non-positive ttl disables expiry.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.ttl > 0 && m.now().Sub(e.updatedAt) >= m.ttl {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.updatedAt.Equal(e.updatedAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte) error {
	cp := append([]byte(nil), val...)
	m.mu.Lock()
	m.entries[key] = memoryEntry{val: cp, updatedAt: m.now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error         { return nil }
func (Nop) Invalidate(context.Context) error                  { return nil }
