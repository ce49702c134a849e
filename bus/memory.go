package bus

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBus implements MessageBus in process. Several swarm nodes can
// share one MemoryBus to form a swarm inside a single binary or test.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	queues map[string]uint64 // pattern+queue -> round-robin cursor
	closed atomic.Bool

	replySeq atomic.Uint64
}

type memorySub struct {
	pattern string
	queue   string
	ch      chan *Message
	bus     *MemoryBus

	mu     sync.Mutex
	closed bool
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		config: cfg,
		queues: make(map[string]uint64),
	}
}

// Publish delivers a message to every matching subscriber and to one
// member of each matching queue group.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidatePublishSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}
	b.deliver(&Message{Subject: subject, Data: data})
	return nil
}

func (b *MemoryBus) deliver(msg *Message) {
	plain, groups := b.route(msg.Subject)

	for _, sub := range plain {
		sub.send(msg)
	}
	for _, group := range groups {
		for _, sub := range group {
			if sub.send(msg) {
				break
			}
		}
	}
}

// route collects matching plain subscribers and, per queue group, the
// members in round-robin order starting at the group's cursor.
func (b *MemoryBus) route(subject string) ([]*memorySub, [][]*memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var plain []*memorySub
	grouped := make(map[string][]*memorySub)
	var keys []string

	for _, sub := range b.subs {
		if !MatchSubject(sub.pattern, subject) {
			continue
		}
		if sub.queue == "" {
			plain = append(plain, sub)
			continue
		}
		key := sub.pattern + " " + sub.queue
		if _, ok := grouped[key]; !ok {
			keys = append(keys, key)
		}
		grouped[key] = append(grouped[key], sub)
	}

	groups := make([][]*memorySub, 0, len(keys))
	for _, key := range keys {
		members := grouped[key]
		start := int(b.queues[key] % uint64(len(members)))
		b.queues[key]++
		ordered := append(append([]*memorySub{}, members[start:]...), members[:start]...)
		groups = append(groups, ordered)
	}
	return plain, groups
}

// Subscribe creates a subscription to a subject pattern.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	return b.subscribe(subject, "")
}

// QueueSubscribe creates a queue subscription.
func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if queue == "" {
		return nil, ErrInvalidSubject
	}
	return b.subscribe(subject, queue)
}

func (b *MemoryBus) subscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		pattern: subject,
		queue:   queue,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// Request publishes with a private reply subject and waits for the
// first reply.
func (b *MemoryBus) Request(subject string, data []byte, timeout time.Duration) (*Message, error) {
	if err := ValidatePublishSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	inbox := "_INBOX." + strconv.FormatUint(b.replySeq.Add(1), 10)
	replySub, err := b.subscribe(inbox, "")
	if err != nil {
		return nil, err
	}
	defer replySub.Unsubscribe()

	plain, groups := b.route(subject)
	if len(plain) == 0 && len(groups) == 0 {
		return nil, ErrNoResponders
	}
	b.deliver(&Message{Subject: subject, Data: data, Reply: inbox})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply, ok := <-replySub.Messages():
		if !ok {
			return nil, ErrClosed
		}
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Close shuts down the bus and closes every subscription channel.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	s.close()
	return nil
}

// send is a non-blocking delivery. It reports false when the
// subscription is closed or its buffer is full.
func (s *memorySub) send(msg *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *memorySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
