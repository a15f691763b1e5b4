package streamstest

import (
	"context"
	"strings"
	"sync"
	"time"
)

// KV is an in-memory key/value store with TTLs driven by a manual clock. It
// satisfies the marker store used by stream consumers.
type KV struct {
	mu      sync.Mutex
	now     time.Time
	values  map[string]string
	expires map[string]time.Time
	counts  map[string]int64

	// Err, when set, fails every call.
	Err error
}

func NewKV() *KV {
	return &KV{
		now:     time.Unix(1_700_000_000, 0),
		values:  map[string]string{},
		expires: map[string]time.Time{},
		counts:  map[string]int64{},
	}
}

// Advance moves the clock, expiring keys whose TTL ran out.
func (k *KV) Advance(d time.Duration) {
	k.mu.Lock()
	k.now = k.now.Add(d)
	k.mu.Unlock()
}

func (k *KV) Exists(ctx context.Context, key string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Err != nil {
		return false, k.Err
	}
	return k.live(key), nil
}

func (k *KV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Err != nil {
		return k.Err
	}
	k.values[key] = toString(value)
	delete(k.counts, key)
	k.setTTL(key, ttl)
	return nil
}

func (k *KV) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Err != nil {
		return 0, k.Err
	}
	if !k.live(key) {
		k.counts[key] = 0
		k.values[key] = ""
		k.setTTL(key, ttl)
	}
	k.counts[key]++
	return k.counts[key], nil
}

func (k *KV) Del(ctx context.Context, keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Err != nil {
		return k.Err
	}
	for _, key := range keys {
		k.drop(key)
	}
	return nil
}

func (k *KV) MarkerKey(kind, scope, id string) string {
	return strings.Join([]string{"was", "marker", kind, scope, id}, ":")
}

// TTL returns the remaining lifetime of key, or zero when absent or persistent.
func (k *KV) TTL(key string) time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.live(key) {
		return 0
	}
	exp, ok := k.expires[key]
	if !ok {
		return 0
	}
	return exp.Sub(k.now)
}

// Count returns the counter stored at key.
func (k *KV) Count(key string) int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.live(key) {
		return 0
	}
	return k.counts[key]
}

func (k *KV) live(key string) bool {
	if _, ok := k.values[key]; !ok {
		return false
	}
	if exp, ok := k.expires[key]; ok && !k.now.Before(exp) {
		k.drop(key)
		return false
	}
	return true
}

func (k *KV) setTTL(key string, ttl time.Duration) {
	if ttl > 0 {
		k.expires[key] = k.now.Add(ttl)
		return
	}
	delete(k.expires, key)
}

func (k *KV) drop(key string) {
	delete(k.values, key)
	delete(k.expires, key)
	delete(k.counts, key)
}

func toString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}
