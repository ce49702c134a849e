// Package ratelimit provides token-bucket limits keyed by resource name.
//
// A swarm node uses it to bound how much it puts on the shared bus
// outside the protocol itself, such as rebroadcast log entries:
//
//	limiter := ratelimit.New(clock.Real())
//	limiter.SetCapacity("log", 10, time.Second) // 10 entries per second
//
//	if limiter.TryAcquire("log") {
//	    publish(entry)
//	}
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vinayprograms/swarmkit/clock"
)

// Capacity describes the limit configured for a resource.
type Capacity struct {
	// Resource is the name the limit was configured under.
	Resource string

	// Available is the number of tokens that can be taken now.
	Available int

	// Total is the maximum number of tokens (tokens per window).
	Total int

	// Window is the time it takes to refill an empty bucket.
	Window time.Duration

	// Denied counts TryAcquire calls refused since the last TakeDenied.
	Denied int
}

type bucket struct {
	lim    *rate.Limiter
	window time.Duration
	denied int
}

func every(capacity int, window time.Duration) rate.Limit {
	return rate.Every(window / time.Duration(capacity))
}

// Limiter holds one bucket per resource. Resources without a configured
// capacity are not limited. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	buckets map[string]*bucket
}

// New creates a Limiter reading time from c. A nil clock uses
// clock.Real().
func New(c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Real()
	}
	return &Limiter{
		clock:   c,
		buckets: make(map[string]*bucket),
	}
}

// SetCapacity allows capacity tokens per window for resource. A new
// bucket starts full. A non-positive capacity or window removes the
// limit.
func (l *Limiter) SetCapacity(resource string, capacity int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if capacity <= 0 || window <= 0 {
		delete(l.buckets, resource)
		return
	}

	now := l.clock.Now()
	if b, ok := l.buckets[resource]; ok {
		b.lim.SetLimitAt(now, every(capacity, window))
		b.lim.SetBurstAt(now, capacity)
		b.window = window
		return
	}
	l.buckets[resource] = &bucket{
		lim:    rate.NewLimiter(every(capacity, window), capacity),
		window: window,
	}
}

// TryAcquire takes a token for resource without blocking and reports
// whether one was available.
func (l *Limiter) TryAcquire(resource string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[resource]
	if !ok {
		return true
	}
	if !b.lim.AllowN(l.clock.Now(), 1) {
		b.denied++
		return false
	}
	return true
}

// TakeDenied returns the number of refused acquisitions for resource and
// resets the count.
func (l *Limiter) TakeDenied(resource string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[resource]
	if !ok {
		return 0
	}
	n := b.denied
	b.denied = 0
	return n
}

// GetCapacity returns the current state of resource, or nil if it has
// no limit.
func (l *Limiter) GetCapacity(resource string) *Capacity {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[resource]
	if !ok {
		return nil
	}
	available := int(b.lim.TokensAt(l.clock.Now()))
	if available < 0 {
		available = 0
	}
	return &Capacity{
		Resource:  resource,
		Available: available,
		Total:     b.lim.Burst(),
		Window:    b.window,
		Denied:    b.denied,
	}
}
