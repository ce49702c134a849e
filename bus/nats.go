package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/swarmkit/logging"
)

// NATSBus carries swarm traffic over a NATS connection. Swarm members
// need nothing beyond core NATS subjects; JetStream is only used by the
// optional state mirror.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
	log    *logging.Logger
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name shown in server monitoring.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration

	// Logger receives connection events and dropped-message warnings.
	// Default: discard.
	Logger *logging.Logger
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

func (cfg NATSConfig) withDefaults() NATSConfig {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return cfg
}

// NewNATSBus connects to a NATS server.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger.WithComponent("bus")

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Debug("connected", map[string]interface{}{"url": conn.ConnectedUrlRedacted()})

	return &NATSBus{conn: conn, config: cfg, log: log}, nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection.
// Close will close the connection.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	cfg = cfg.withDefaults()
	return &NATSBus{conn: conn, config: cfg, log: cfg.Logger.WithComponent("bus")}
}

func buildNATSOptions(cfg NATSConfig, log *logging.Logger) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected", map[string]interface{}{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected", map[string]interface{}{"url": c.ConnectedUrlRedacted()})
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := map[string]interface{}{"error": err.Error()}
			if sub != nil {
				fields["subject"] = sub.Subject
			}
			log.Warn("async error", fields)
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}

// Publish sends a message to a subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidatePublishSubject(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe creates a subscription to a subject pattern.
func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	return b.subscribe(subject, "")
}

// QueueSubscribe creates a queue subscription.
func (b *NATSBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if queue == "" {
		return nil, ErrInvalidSubject
	}
	return b.subscribe(subject, queue)
}

func (b *NATSBus) subscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	s := &natsSubscription{
		subject: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		log:     b.log,
	}
	handler := func(m *nats.Msg) {
		s.deliver(&Message{Subject: m.Subject, Data: m.Data, Reply: m.Reply})
	}

	var err error
	if queue == "" {
		s.sub, err = b.conn.Subscribe(subject, handler)
	} else {
		s.sub, err = b.conn.QueueSubscribe(subject, queue, handler)
	}
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return s, nil
}

// Request sends a request and waits for reply.
func (b *NATSBus) Request(subject string, data []byte, timeout time.Duration) (*Message, error) {
	if err := ValidatePublishSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	reply, err := b.conn.Request(subject, data, timeout)
	switch {
	case errors.Is(err, nats.ErrTimeout):
		return nil, ErrTimeout
	case errors.Is(err, nats.ErrNoResponders):
		return nil, ErrNoResponders
	case err != nil:
		return nil, fmt.Errorf("nats request: %w", err)
	}

	return &Message{Subject: reply.Subject, Data: reply.Data, Reply: reply.Reply}, nil
}

// Close drains pending publishes and closes the connection.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.conn.Close()
		return fmt.Errorf("nats flush: %w", err)
	}
	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection, e.g. for JetStream.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

type natsSubscription struct {
	sub     *nats.Subscription
	subject string
	ch      chan *Message
	log     *logging.Logger
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// dropWarnEvery spaces out warnings about a full subscription buffer.
const dropWarnEvery = 1000

func (s *natsSubscription) deliver(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		if n := s.dropped.Add(1); n%dropWarnEvery == 1 {
			s.log.Warn("subscription buffer full, dropping", map[string]interface{}{
				"subject": s.subject, "dropped": n,
			})
		}
	}
}

// Dropped returns the number of messages discarded on a full buffer.
func (s *natsSubscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Messages returns the message channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription and closes the channel.
func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()

	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}
