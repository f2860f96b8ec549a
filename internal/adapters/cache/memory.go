package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

type entry struct {
	value   string
	expires time.Time // zero means no expiry
}

// MemoryCache is a single-process Cache with per-key TTLs for strings.
type MemoryCache struct {
	mu      sync.Mutex
	strings map[string]entry
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		strings: make(map[string]entry),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][]string),
		now:     time.Now,
	}
}

// SetClock replaces the time source; tests use it to expire keys.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *MemoryCache) Close() error { return nil }

func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) SetAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[key]
	if !ok {
		set = make(map[string]struct{})
		c.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (c *MemoryCache) SetRemove(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.sets[key]
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(c.sets, key)
	}
	return nil
}

func (c *MemoryCache) SetMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sets[key]))
	for m := range c.sets[key] {
		out = append(out, m)
	}
	slices.Sort(out)
	return out, nil
}

func (c *MemoryCache) SetIsMember(_ context.Context, key, member string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sets[key][member]
	return ok, nil
}

// getLocked drops the key if it expired.
func (c *MemoryCache) getLocked(key string) (string, bool) {
	e, ok := c.strings[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.strings, key)
		return "", false
	}
	return e.value, true
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.getLocked(key)
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.strings[key] = e
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.strings, k)
		delete(c.sets, k)
		delete(c.lists, k)
	}
	return nil
}

func (c *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := c.getLocked(k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (c *MemoryCache) ListPushIfExists(_ context.Context, key, value string, maxLen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.lists[key]
	if !ok {
		return nil
	}
	list := append([]string{value}, old...)
	if int64(len(list)) > maxLen {
		list = list[:maxLen]
	}
	c.lists[key] = list
	return nil
}

// ListRange follows LRANGE: inclusive bounds, negative indexes count from the end.
func (c *MemoryCache) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.lists[key]
	n := int64(len(list))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}
	return slices.Clone(list[start : stop+1]), nil
}

func (c *MemoryCache) ListReplace(_ context.Context, key string, values []string, maxLen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int64(len(values)) > maxLen {
		values = values[:maxLen]
	}
	if len(values) == 0 {
		delete(c.lists, key)
		return nil
	}
	c.lists[key] = slices.Clone(values)
	return nil
}
