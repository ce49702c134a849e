// Package dedupe tracks recently seen message keys so redelivered
// messages are processed once.
package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/vinayprograms/swarmkit/clock"
)

type entry struct {
	key  string
	seen time.Time
}

// Cache is a TTL and size bounded set of keys. Expired entries are
// pruned on write, so no background goroutine is needed.
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	maxSize int
	index   map[string]*list.Element
	order   *list.List // oldest at front
}

// New creates a cache. A nil clock uses real time.
func New(ttl time.Duration, maxSize int, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		clock:   clk,
		ttl:     ttl,
		maxSize: maxSize,
		index:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	return ok && c.fresh(el.Value.(*entry), c.clock.Now())
}

// CheckAndMark marks key and reports whether it had already been seen.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if el, ok := c.index[key]; ok && c.fresh(el.Value.(*entry), now) {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Mark records key as seen now.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.clock.Now())
}

// Len returns the number of tracked keys, expired ones included until
// the next write.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) fresh(e *entry, now time.Time) bool {
	return now.Sub(e.seen) < c.ttl
}

func (c *Cache) markLocked(key string, now time.Time) {
	if el, ok := c.index[key]; ok {
		el.Value.(*entry).seen = now
		c.order.MoveToBack(el)
	} else {
		c.index[key] = c.order.PushBack(&entry{key: key, seen: now})
	}

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if c.order.Len() <= c.maxSize && c.fresh(e, now) {
			break
		}
		c.order.Remove(front)
		delete(c.index, e.key)
	}
}
