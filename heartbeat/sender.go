package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/swarmkit/clock"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// DefaultInterval is the beat interval used when none is configured.
const DefaultInterval = time.Second

// Config configures a Sender.
type Config struct {
	// Interval between beats.
	// Default: 1s
	Interval time.Duration

	// Clock drives the ticker. Default: clock.Real().
	Clock clock.Clock

	// Beat is called once on Start and then on every tick.
	Beat func(now time.Time)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Beat == nil {
		return ErrInvalidConfig
	}
	if c.Interval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Sender calls Beat on a fixed interval.
type Sender struct {
	interval time.Duration
	clock    clock.Clock
	beat     func(time.Time)

	beats   atomic.Int64
	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSender creates a heartbeat sender.
func NewSender(cfg Config) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Sender{
		interval: interval,
		clock:    clk,
		beat:     cfg.Beat,
	}, nil
}

// Start sends a first beat immediately and then one per interval until
// Stop is called or ctx ends.
func (s *Sender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	// The ticker exists before Start returns so no tick is missed.
	ticker := s.clock.NewTicker(s.interval)
	go s.run(ctx, ticker)
	return nil
}

func (s *Sender) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(s.doneCh)
	defer ticker.Stop()

	s.send()

	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.send()
		}
	}
}

func (s *Sender) send() {
	s.beats.Add(1)
	s.beat(s.clock.Now())
}

// Stop stops the sender and waits for the loop to exit.
func (s *Sender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// Running reports whether the sender is active.
func (s *Sender) Running() bool {
	return s.running.Load()
}

// Interval returns the beat interval.
func (s *Sender) Interval() time.Duration {
	return s.interval
}

// Beats returns how many beats have been sent.
func (s *Sender) Beats() int64 {
	return s.beats.Load()
}
