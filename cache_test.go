package authkit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryKVCheckAndSet(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	defer kv.Close()

	ok, err := kv.CheckAndSet(ctx, "k1", "v1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first set must win: ok=%v err=%v", ok, err)
	}
	ok, err = kv.CheckAndSet(ctx, "k1", "v2", time.Minute)
	if err != nil || ok {
		t.Fatalf("second set on a live key must lose: ok=%v err=%v", ok, err)
	}

	val, found, err := kv.Get(ctx, "k1")
	if err != nil || !found || val != "v1" {
		t.Fatalf("expected the first value to survive, got %q found=%v err=%v", val, found, err)
	}
}

func TestMemoryKVExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	defer kv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	if ok, _ := kv.CheckAndSet(ctx, "k1", "v1", time.Minute); !ok {
		t.Fatalf("initial set must win")
	}

	now = now.Add(time.Minute + time.Second)
	if _, found, _ := kv.Get(ctx, "k1"); found {
		t.Fatalf("expired entry must not be readable")
	}
	if ok, _ := kv.CheckAndSet(ctx, "k1", "v2", time.Minute); !ok {
		t.Fatalf("set after expiry must win again")
	}
}

func TestMemoryKVDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	defer kv.Close()

	_, _ = kv.CheckAndSet(ctx, "k1", "v1", time.Minute)
	if err := kv.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := kv.Get(ctx, "k1"); found {
		t.Fatalf("deleted entry must be gone")
	}
}

func TestMemoryKVEvictExpired(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	defer kv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	_, _ = kv.CheckAndSet(ctx, "stale", "x", time.Second)
	_, _ = kv.CheckAndSet(ctx, "fresh", "y", time.Hour)

	now = now.Add(time.Minute)
	kv.evictExpired()

	kv.mu.Lock()
	_, staleThere := kv.entries["stale"]
	_, freshThere := kv.entries["fresh"]
	kv.mu.Unlock()
	if staleThere || !freshThere {
		t.Fatalf("janitor must drop only expired entries: stale=%v fresh=%v", staleThere, freshThere)
	}
}
