// Package cache de-duplicates expensive probes. Entries live for a short
// TTL; concurrent misses for the same key share one probe call.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/proxymon/internal/clock"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a probe result stays fresh.
const DefaultTTL = 5 * time.Second

// Key identifies a cached probe result.
type Key struct {
	Host      string
	Signature string
}

func (k Key) flightKey() string {
	return k.Host + "\x00" + k.Signature
}

type entry struct {
	value   float64
	expires time.Time
}

// SampleCache maps (host, probe signature) to a recent result. Failed
// probes are never stored.
type SampleCache struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[Key]entry
	group   singleflight.Group
}

// New returns an empty cache. A nil clock means the real clock.
func New(c clock.Clock) *SampleCache {
	return &SampleCache{
		clock:   clock.OrReal(c),
		entries: make(map[Key]entry),
	}
}

// Get returns a live entry for key.
func (c *SampleCache) Get(key Key) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		return 0, false
	}
	return e.value, true
}

// Set stores value for key until now+ttl. Last writer wins.
func (c *SampleCache) Set(key Key, value float64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expires: c.clock.Now().Add(ttl)}
}

// GetOrProbe returns the cached value for key, or runs probe and caches its
// result for ttl. The boolean reports a cache hit. A ttl <= 0 uses DefaultTTL.
//
// Concurrent misses share one probe call. The shared call runs detached from
// the cancellation of whichever caller started it, so probe must bound itself;
// a caller whose ctx ends only abandons its own wait.
func (c *SampleCache) GetOrProbe(ctx context.Context, key Key, ttl time.Duration, probe func(context.Context) (float64, error)) (float64, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.flightKey(), func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := probe(shared)
		if err != nil {
			return 0.0, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, false, res.Err
		}
		return res.Val.(float64), false, nil
	}
}

// Purge drops expired entries and returns how many were removed.
func (c *SampleCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, live or not.
func (c *SampleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Signature normalizes a command into a cache signature.
func Signature(cmd string) string {
	return strings.Join(strings.Fields(cmd), " ")
}
