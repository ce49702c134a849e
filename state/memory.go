package state

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/swarmkit/clock"
)

// MemoryStore implements Store in process memory. Expired entries are
// dropped lazily when touched.
type MemoryStore struct {
	clock      clock.Clock
	defaultTTL time.Duration

	mu       sync.Mutex
	data     map[string]*entry
	watchers []*watcher
	revision uint64
	closed   atomic.Bool
	done     chan struct{}
}

type entry struct {
	value    []byte
	revision uint64
	modified time.Time
	expires  time.Time // zero means no expiry
}

type watcher struct {
	pattern string
	ch      chan *KeyValue
	closed  bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock used for expiry.
func WithClock(c clock.Clock) MemoryOption {
	return func(s *MemoryStore) { s.clock = c }
}

// WithDefaultTTL expires entries put with a zero ttl after d.
func WithDefaultTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.defaultTTL = d }
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		clock: clock.Real(),
		data:  make(map[string]*entry),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// getLocked returns a live entry, dropping it if it expired.
func (s *MemoryStore) getLocked(key string, now time.Time) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(s.data, key)
		s.notifyLocked(key, nil, OpDelete, now)
		return nil, false
	}
	return e, true
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.getLocked(key, s.clock.Now())
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Put stores a value with an optional TTL.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}

	s.revision++
	val := append([]byte(nil), value...)
	s.data[key] = &entry{
		value:    val,
		revision: s.revision,
		modified: now,
		expires:  expires,
	}
	s.notifyLocked(key, val, OpPut, now)
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; ok {
		delete(s.data, key)
		s.revision++
		s.notifyLocked(key, nil, OpDelete, s.clock.Now())
	}
	return nil
}

// Keys returns the live keys matching pattern, sorted.
func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var keys []string
	for key := range s.data {
		if !MatchPattern(pattern, key) {
			continue
		}
		if _, ok := s.getLocked(key, now); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch streams changes to matching keys. Notifications are dropped
// when the channel is full.
func (s *MemoryStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	w := &watcher{pattern: pattern, ch: make(chan *KeyValue, 64)}

	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.removeWatcherLocked(w)
	}()

	return w.ch, nil
}

func (s *MemoryStore) removeWatcherLocked(w *watcher) {
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
	for i, x := range s.watchers {
		if x == w {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			break
		}
	}
}

// notifyLocked must be called with mu held.
func (s *MemoryStore) notifyLocked(key string, value []byte, op Operation, now time.Time) {
	for _, w := range s.watchers {
		if w.closed || !MatchPattern(w.pattern, key) {
			continue
		}
		kv := &KeyValue{
			Key:       key,
			Value:     value,
			Revision:  s.revision,
			Operation: op,
			Modified:  now,
		}
		select {
		case w.ch <- kv:
		default:
		}
	}
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Close shuts down the store and ends every watch.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range append([]*watcher(nil), s.watchers...) {
		s.removeWatcherLocked(w)
	}
	s.data = make(map[string]*entry)
	return nil
}
