package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for tests.
//
// Callbacks registered with AfterFunc run on the goroutine calling
// Advance. A callback must not call Advance itself.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*waiter
}

type waiter struct {
	at       time.Time
	seq      uint64
	fn       func()
	ch       chan time.Time
	interval time.Duration
	stopped  bool
}

// Fake returns a FakeClock set to start.
func Fake(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run when the clock passes now+d. A
// non-positive d still waits for the next Advance.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.addLocked(d, 0)
	w.fn = f
	return &Timer{stop: func() bool { return c.cancel(w) }}
}

// NewTicker returns a ticker that fires once per interval crossed by
// Advance.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := c.addLocked(d, d)
	w.ch = ch
	return &Ticker{C: ch, stop: func() { c.cancel(w) }}
}

// Advance moves time forward by d and fires everything that came due,
// earliest first. Timers registered by callbacks during the advance
// fire too if their deadline falls inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		w := c.nextDue(target)
		if w == nil {
			break
		}
		if w.fn != nil {
			w.fn()
		} else {
			select {
			case w.ch <- w.at:
			default:
			}
		}
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// Pending reports how many timers and tickers are armed.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) addLocked(d, interval time.Duration) *waiter {
	if d < 0 {
		d = 0
	}
	c.seq++
	w := &waiter{at: c.now.Add(d), seq: c.seq, interval: interval}
	c.pending = append(c.pending, w)
	return w
}

// nextDue pops the earliest waiter due at or before target and moves the
// clock to its deadline. Tickers are rescheduled.
func (c *FakeClock) nextDue(target time.Time) *waiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}
	sort.SliceStable(c.pending, func(i, j int) bool {
		a, b := c.pending[i], c.pending[j]
		if a.at.Equal(b.at) {
			return a.seq < b.seq
		}
		return a.at.Before(b.at)
	})

	w := c.pending[0]
	if w.at.After(target) {
		return nil
	}
	if w.at.After(c.now) {
		c.now = w.at
	}

	if w.interval > 0 {
		fired := *w
		w.at = w.at.Add(w.interval)
		c.seq++
		w.seq = c.seq
		return &fired
	}
	c.pending = c.pending[1:]
	w.stopped = true
	return w
}

func (c *FakeClock) cancel(w *waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w.stopped {
		return false
	}
	w.stopped = true
	for i, p := range c.pending {
		if p == w {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	return true
}
