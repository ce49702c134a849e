package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/swarmkit/logging"
)

type registration struct {
	name  string
	phase Phase
	fn    Func
}

// Sequence runs registered handlers phase by phase.
type Sequence struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration
	started  bool
	result   *Result

	done chan struct{}
}

// NewSequence creates a shutdown sequence. A nil logger discards output.
func NewSequence(config Config, logger *logging.Logger) *Sequence {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Sequence{
		config: config,
		logger: logger.WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
}

// Register adds a handler to a phase. Registering after shutdown began
// has no effect.
func (s *Sequence) Register(name string, phase Phase, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.handlers = append(s.handlers, registration{name: name, phase: phase, fn: fn})
}

// Shutdown runs every phase in order and returns the joined handler
// errors. Only the first call runs; later calls return
// ErrAlreadyShuttingDown.
func (s *Sequence) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyShuttingDown
	}
	s.started = true
	handlers := append([]registration(nil), s.handlers...)
	s.mu.Unlock()

	result := s.run(ctx, handlers)

	s.mu.Lock()
	s.result = result
	s.mu.Unlock()
	close(s.done)

	return result.Err()
}

// ShutdownWithTimeout runs Shutdown bounded by timeout.
func (s *Sequence) ShutdownWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx ends, then runs
// Shutdown with the given timeout.
func (s *Sequence) WaitForSignal(ctx context.Context, timeout time.Duration) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	s.logger.Info("shutdown requested", map[string]interface{}{"cause": context.Cause(sigCtx).Error()})
	return s.ShutdownWithTimeout(timeout)
}

// Done is closed once Shutdown has finished.
func (s *Sequence) Done() <-chan struct{} {
	return s.done
}

// Result returns the shutdown summary, or nil before Shutdown finished.
func (s *Sequence) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Sequence) run(ctx context.Context, handlers []registration) *Result {
	start := time.Now()
	result := &Result{}

	for _, group := range groupByPhase(handlers) {
		phase := group[0].phase
		results := s.runPhase(ctx, group)
		result.Results = append(result.Results, results...)

		failed := false
		for _, hr := range results {
			if hr.Err != nil {
				failed = true
				s.logger.Warn("shutdown handler failed", map[string]interface{}{
					"handler": hr.Name, "phase": phase.String(), "error": hr.Err.Error(),
				})
			}
		}
		if failed && !s.config.ContinueOnError {
			result.Aborted = true
			break
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info("shutdown complete", map[string]interface{}{
		"handlers": len(result.Results), "failed": len(result.FailedHandlers()), "duration": result.Duration.String(),
	})
	return result
}

// runPhase runs one phase's handlers concurrently. A handler that
// ignores its context is abandoned at the phase deadline.
func (s *Sequence) runPhase(ctx context.Context, group []registration) []HandlerResult {
	if s.config.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.PhaseTimeout)
		defer cancel()
	}

	results := make([]HandlerResult, len(group))
	finished := make([]chan struct{}, len(group))
	var mu sync.Mutex

	for i, reg := range group {
		finished[i] = make(chan struct{})
		go func(idx int, r registration) {
			defer close(finished[idx])
			begin := time.Now()
			err := r.fn(ctx)
			mu.Lock()
			results[idx] = HandlerResult{Name: r.name, Phase: r.phase, Duration: time.Since(begin), Err: err}
			mu.Unlock()
		}(i, reg)
	}

	for i, reg := range group {
		select {
		case <-finished[i]:
		case <-ctx.Done():
			select {
			case <-finished[i]:
			default:
				mu.Lock()
				results[i] = HandlerResult{Name: reg.name, Phase: reg.phase, Err: ErrPhaseTimeout}
				mu.Unlock()
			}
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]HandlerResult(nil), results...)
}

func groupByPhase(handlers []registration) [][]registration {
	sorted := append([]registration(nil), handlers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].phase < sorted[j].phase })

	var groups [][]registration
	for _, r := range sorted {
		if n := len(groups); n > 0 && groups[n-1][0].phase == r.phase {
			groups[n-1] = append(groups[n-1], r)
			continue
		}
		groups = append(groups, []registration{r})
	}
	return groups
}
