package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"pefsched/internal/config"
)

func TestMemoryGetSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(time.Minute)

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Fatal("unexpected hit")
	}
	val := []byte(`[{"nid":1}]`)
	if err := m.Set(ctx, "k", val); err != nil {
		t.Fatal(err)
	}
	val[0] = 'x'
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if string(got) != `[{"nid":1}]` {
		t.Fatalf("cached value was aliased: %q", got)
	}
}

func TestMemoryExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(30 * time.Second)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "k", []byte("v"))
	now = now.Add(29 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}
	now = now.Add(time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("entry should have expired")
	}
	if m.Len() != 0 {
		t.Fatalf("expired entry not evicted, len=%d", m.Len())
	}
}

func TestMemoryInvalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(0)
	_ = m.Set(ctx, "a", []byte("1"))
	_ = m.Set(ctx, "b", []byte("2"))
	if err := m.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty cache, len=%d", m.Len())
	}
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()
	c, err := New(config.CacheConfig{Backend: "memory", TTL: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Fatalf("expected *Memory, got %T", c)
	}
	c, err = New(config.CacheConfig{Backend: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(Nop); !ok {
		t.Fatalf("expected Nop, got %T", c)
	}
	if _, err := New(config.CacheConfig{Backend: "memcached"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("PEFSCHED_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PEFSCHED_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "pefsched-test-" + time.Now().Format("150405.000000000")
	r, err := NewRedis(RedisOptions{Addr: addr, Prefix: prefix, TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	if err := r.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := r.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("unexpected get: %q ok=%v err=%v", got, ok, err)
	}
	if err := r.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Fatal("entry visible after invalidate")
	}
}
