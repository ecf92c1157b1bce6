// Package access answers whether a display name may act on an approval
// stage. Allow-lists live in the stage_access table and are cached per
// process for a bounded time.
package access

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"movementflow/internal/flow"
	"movementflow/internal/observability"
)

// Gate is consulted before every stage transition and queue view.
type Gate interface {
	HasAccess(ctx context.Context, stage flow.Stage, displayName string) (bool, error)
}

// Clock abstracts time for the cache.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Loader reads the complete allow-list, keyed by stage.
type Loader interface {
	Load(ctx context.Context) (map[flow.Stage][]string, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (map[flow.Stage][]string, error)

func (f LoaderFunc) Load(ctx context.Context) (map[flow.Stage][]string, error) { return f(ctx) }

// Cache holds a snapshot of the allow-list for ttl. Stale reads within the
// window are accepted; writers call Invalidate.
type Cache struct {
	loader Loader
	clock  Clock
	ttl    time.Duration

	mu        sync.RWMutex
	names     map[flow.Stage]map[string]string // normalized -> display form
	expiresAt time.Time
	gen       uint64 // bumped by Invalidate
}

// NewCache builds a cache. A nil clock means the wall clock.
func NewCache(loader Loader, ttl time.Duration, clock Clock) *Cache {
	if clock == nil {
		clock = SystemClock
	}
	return &Cache{loader: loader, clock: clock, ttl: ttl}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Invalidate drops the snapshot so the next read reloads it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.names = nil
	c.expiresAt = time.Time{}
	c.gen++
	c.mu.Unlock()
}

func (c *Cache) current(ctx context.Context) (map[flow.Stage]map[string]string, error) {
	now := c.clock.Now()

	c.mu.RLock()
	if c.names != nil && now.Before(c.expiresAt) {
		names := c.names
		c.mu.RUnlock()
		return names, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	raw, err := c.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[flow.Stage]map[string]string, len(raw))
	for stage, list := range raw {
		set := make(map[string]string, len(list))
		for _, n := range list {
			if key := normalize(n); key != "" {
				set[key] = strings.TrimSpace(n)
			}
		}
		names[stage] = set
	}
	observability.AccessCacheReloads.Inc()

	// A load that raced with Invalidate may predate the write; use it for
	// this call only.
	c.mu.Lock()
	if c.gen == gen {
		c.names = names
		c.expiresAt = now.Add(c.ttl)
	}
	c.mu.Unlock()
	return names, nil
}

// HasAccess reports whether displayName may act on stage. A stage without
// entries is open to everyone.
func (c *Cache) HasAccess(ctx context.Context, stage flow.Stage, displayName string) (bool, error) {
	names, err := c.current(ctx)
	if err != nil {
		return false, err
	}
	set := names[stage]
	if len(set) == 0 {
		observability.AccessDecisions.WithLabelValues(stage.String(), "open").Inc()
		return true, nil
	}
	_, ok := set[normalize(displayName)]
	result := "denied"
	if ok {
		result = "granted"
	}
	observability.AccessDecisions.WithLabelValues(stage.String(), result).Inc()
	return ok, nil
}

// Snapshot returns a copy of the cached allow-list with sorted names.
func (c *Cache) Snapshot(ctx context.Context) (map[flow.Stage][]string, error) {
	names, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[flow.Stage][]string, len(names))
	for stage, set := range names {
		list := make([]string, 0, len(set))
		for _, display := range set {
			list = append(list, display)
		}
		sort.Strings(list)
		out[stage] = list
	}
	return out, nil
}
