package authkit

import (
	"context"
	"sync"
	"time"
)

// KV is the ephemeral store contract the signature service relies on for
// nonce tracking: get, set-with-TTL, delete. Any TTL-capable key/value
// store suffices. A multi-instance deployment must use a centralized
// implementation (see stores.RedisKV) or replayed nonces can be accepted
// once per instance.
type KV interface {
	// CheckAndSet stores value under key with the given TTL if the key is
	// absent, and reports whether the write happened. A false return means
	// the key was already present and still live.
	CheckAndSet(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is a process-local KV with TTL expiry. Suitable for tests and
// single-instance deployments only; replay protection built on it does not
// coordinate across processes.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memEntry
	stopCh  chan struct{}
	now     func() time.Time
}

// NewMemoryKV starts a MemoryKV with a background janitor that evicts
// expired entries. Call Close when done.
func NewMemoryKV() *MemoryKV {
	kv := &MemoryKV{
		entries: make(map[string]memEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go kv.janitor(30 * time.Second)
	return kv
}

func (kv *MemoryKV) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			kv.evictExpired()
		case <-kv.stopCh:
			return
		}
	}
}

func (kv *MemoryKV) evictExpired() {
	now := kv.now()
	kv.mu.Lock()
	for k, e := range kv.entries {
		if now.After(e.expiresAt) {
			delete(kv.entries, k)
		}
	}
	kv.mu.Unlock()
}

func (kv *MemoryKV) CheckAndSet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := kv.now()
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if e, ok := kv.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	kv.entries[key] = memEntry{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

func (kv *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok || kv.now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (kv *MemoryKV) Delete(ctx context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.entries, key)
	return nil
}

// Close stops the janitor.
func (kv *MemoryKV) Close() {
	select {
	case <-kv.stopCh:
	default:
		close(kv.stopCh)
	}
}
