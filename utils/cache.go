package utils

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultCacheTTL = time.Hour
	sweepInterval   = time.Minute
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache stores short-lived values in Redis when available and in process memory otherwise.
type Cache struct {
	rc  *redis.Client
	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	mem       map[string]memEntry
	lastSweep time.Time
}

// NewCache wraps rc; a nil client selects the in-memory store.
func NewCache(rc *redis.Client, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{rc: rc, log: log, now: time.Now, mem: map[string]memEntry{}}
}

// WithClock replaces the clock used for in-memory expiry.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns cached bytes for key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		b, err := c.rc.Get(ctx, key).Bytes()
		if err != nil {
			c.log.Debug("cache get miss", zap.String("key", key), zap.Error(err))
			return nil, false
		}
		return b, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.mem[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.mem, key)
		return nil, false
	}
	return e.value, true
}

// Set stores bytes; a non-positive ttl uses the default of one hour.
func (c *Cache) Set(ctx context.Context, key string, b []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if c.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.rc.Set(ctx, key, b, ttl).Err(); err != nil {
			c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return
	}
	c.mu.Lock()
	c.sweepLocked()
	c.mem[key] = memEntry{value: b, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// sweepLocked drops expired in-memory entries at most once per sweepInterval,
// so keys that are written once and never read again do not pile up.
func (c *Cache) sweepLocked() {
	now := c.now()
	if now.Sub(c.lastSweep) < sweepInterval {
		return
	}
	c.lastSweep = now
	for k, e := range c.mem {
		if !now.Before(e.expiresAt) {
			delete(c.mem, k)
		}
	}
}

// SetNX stores b only when key is absent and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, key string, b []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if c.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		ok, err := c.rc.SetNX(ctx, key, b, ttl).Result()
		if err != nil {
			c.log.Warn("cache setnx failed", zap.String("key", key), zap.Error(err))
			return false
		}
		return ok
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	if e, ok := c.mem[key]; ok && c.now().Before(e.expiresAt) {
		return false
	}
	c.mem[key] = memEntry{value: b, expiresAt: c.now().Add(ttl)}
	return true
}

// GetJSON decodes the cached value into v.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) bool {
	b, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(b, v) == nil
}

// SetJSON marshals v and stores JSON bytes.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(ctx, key, b, ttl)
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if c.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = c.rc.Del(ctx, keys...).Err()
		return
	}
	c.mu.Lock()
	for _, k := range keys {
		delete(c.mem, k)
	}
	c.mu.Unlock()
}

// InvalidateByPrefix deletes keys that match the given prefix using SCAN.
func (c *Cache) InvalidateByPrefix(ctx context.Context, prefix string) {
	if c.rc == nil {
		c.mu.Lock()
		for k := range c.mem {
			if strings.HasPrefix(k, prefix) {
				delete(c.mem, k)
			}
		}
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var cursor uint64
	for i := 0; i < 10; i++ { // limit rounds to avoid long loops
		keys, cur, err := c.rc.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			break
		}
		cursor = cur
		if len(keys) > 0 {
			pipe := c.rc.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			_, _ = pipe.Exec(ctx)
		}
		if cursor == 0 {
			break
		}
	}
}

// Take removes key and reports whether it held a live value.
func (c *Cache) Take(ctx context.Context, key string) bool {
	if c.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		v, err := c.rc.GetDel(ctx, key).Result()
		return err == nil && v != ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.mem[key]
	if !ok {
		return false
	}
	delete(c.mem, key)
	return c.now().Before(e.expiresAt)
}
