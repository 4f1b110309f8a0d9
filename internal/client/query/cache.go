// Package query caches decoded backend results under logical keys such as
// ["decisions", projectID, "list", ...] and collapses identical in-flight
// fetches into one call.
package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

type Key []string

// String encodes every part with a terminator so prefix matching never splits
// a part: ["decisions","p1"] is not a prefix of ["decisions","p10"].
func (k Key) String() string {
	var b strings.Builder
	for _, part := range k {
		b.WriteString(part)
		b.WriteByte(0)
	}
	return b.String()
}

type entry struct {
	value    any
	storedAt time.Time
}

type Cache struct {
	entries *lru.Cache[string, entry]
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time

	mu  sync.Mutex
	gen uint64
}

// New builds a cache holding at most size results. A zero ttl keeps results
// until they are evicted or invalidated.
func New(size int, ttl time.Duration) (*Cache, error) {
	entries, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	return &Cache{entries: entries, ttl: ttl, now: time.Now}, nil
}

func (c *Cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Cache) lookup(key string) (any, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

// store keeps value unless an invalidation ran since the fetch started.
func (c *Cache) store(key string, value any, startedGen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != startedGen {
		return
	}
	c.entries.Add(key, entry{value: value, storedAt: c.now()})
}

// Fetch returns the cached value for key or runs fetch once for all
// concurrent callers. Errors are never cached.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	k := key.String()
	if cached, ok := c.lookup(k); ok {
		if v, ok := cached.(T); ok {
			return v, nil
		}
	}
	started := c.generation()
	v, err, _ := c.group.Do(k, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(k, value, started)
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query cache: %q holds %T", strings.Join(key, "/"), v)
	}
	return typed, nil
}

// Invalidate drops every entry whose key starts with prefix and returns how
// many were removed. An empty prefix drops everything.
func (c *Cache) Invalidate(prefix ...string) int {
	p := Key(prefix).String()
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()

	removed := 0
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, p) {
			c.entries.Remove(k)
			c.group.Forget(k)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	return c.entries.Len()
}
