// Package querycache is a short-TTL in-memory cache for backend reads.
//
// Concurrent misses on one key share a single load. Entries are dropped by
// prefix when a finished run reports which results it may have changed.
package querycache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Keys used by the dashboard. Prefix invalidation relies on the "heatmap:"
// family sharing its prefix.
const (
	KeyCatalog  = "catalog"
	KeyDomains  = "heatmap:domains"
	KeySkills   = "heatmap:skills"
	KeyBP       = "heatmap:bp"
	KeyReports  = "reports"
	loadTimeout = 30 * time.Second
)

// DomainKey is the key of one domain's result matrix.
func DomainKey(domain string) string { return "heatmap:domain:" + domain }

// DetailKey is the key of one cell's detail.
func DetailKey(scenarioID, checkID string) string {
	return "heatmap:detail:" + scenarioID + ":" + checkID
}

// Cache is safe for concurrent use. Call Close to stop the eviction loop.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	// gen advances on every invalidation; a load that started under an
	// older generation does not store its result.
	gen uint64

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	value     any
	expiresAt time.Time
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Get returns a live entry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores v under key for the configured TTL.
func (c *Cache) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: v, expiresAt: time.Now().Add(c.ttl)}
}

func (c *Cache) setIfCurrent(key string, v any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.entries[key] = entry{value: v, expiresAt: time.Now().Add(c.ttl)}
}

// InvalidatePrefix drops every entry whose key starts with one of prefixes
// and returns how many were dropped. Loads already in flight for any key
// do not store their possibly stale results, and later callers do not join
// them.
func (c *Cache) InvalidatePrefix(prefixes ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	n := 0
	for k := range c.entries {
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				delete(c.entries, k)
				n++
				break
			}
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close stops the eviction loop. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Load returns the cached value for key, calling fn on a miss. Concurrent
// misses share one call to fn. Errors are not cached.
//
// fn runs detached from the caller's cancellation, since its result is
// shared by every waiter; it is bounded by its own timeout instead.
func Load[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if t, ok := v.(T); ok {
			c.hits.Add(1)
			return t, nil
		}
	}
	c.misses.Add(1)

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10)+"/"+key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		t, err := fn(loadCtx)
		if err != nil {
			return nil, err
		}
		c.setIfCurrent(key, t, gen)
		return t, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *Cache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
