package shutdown

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyShuttingDown is returned when Shutdown runs a second time.
	ErrAlreadyShuttingDown = errors.New("shutdown already in progress")

	// ErrPhaseTimeout is recorded for a handler still running when its
	// phase deadline passed.
	ErrPhaseTimeout = errors.New("shutdown phase timed out")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid shutdown configuration")
)

// Phase orders shutdown work. Handlers in a lower phase finish before
// the next phase starts; handlers in one phase run concurrently.
type Phase int

const (
	// PhaseIntake refuses new work and waits for running task handlers.
	PhaseIntake Phase = 0
	// PhaseNode stops the coordinator loop and its heartbeats.
	PhaseNode Phase = 10
	// PhaseTransport closes bus connections and any embedded server.
	PhaseTransport Phase = 20
	// PhaseStorage closes state stores.
	PhaseStorage Phase = 30
	// PhaseTelemetry flushes and stops exporters.
	PhaseTelemetry Phase = 40
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIntake:
		return "intake"
	case PhaseNode:
		return "node"
	case PhaseTransport:
		return "transport"
	case PhaseStorage:
		return "storage"
	case PhaseTelemetry:
		return "telemetry"
	}
	return "custom"
}

// Func is one unit of shutdown work.
type Func func(ctx context.Context) error

// HandlerResult records one handler's run.
type HandlerResult struct {
	Name     string
	Phase    Phase
	Duration time.Duration
	Err      error
}

// Result summarizes a full shutdown.
type Result struct {
	Results  []HandlerResult
	Duration time.Duration
	// Aborted is set when a failing phase stopped the sequence.
	Aborted bool
}

// Failed reports whether any handler returned an error.
func (r *Result) Failed() bool {
	return len(r.FailedHandlers()) > 0
}

// FailedHandlers returns the names of handlers that returned errors.
func (r *Result) FailedHandlers() []string {
	var names []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			names = append(names, hr.Name)
		}
	}
	return names
}

// Err joins every handler error, or returns nil.
func (r *Result) Err() error {
	var errs []error
	for _, hr := range r.Results {
		if hr.Err != nil {
			errs = append(errs, hr.Err)
		}
	}
	return errors.Join(errs...)
}

// Config configures a Sequence.
type Config struct {
	// PhaseTimeout bounds each phase. Zero means no per-phase bound
	// beyond the caller's context.
	PhaseTimeout time.Duration

	// ContinueOnError runs later phases even when a handler failed.
	ContinueOnError bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PhaseTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns the configuration used by swarm nodes.
func DefaultConfig() Config {
	return Config{
		PhaseTimeout:    10 * time.Second,
		ContinueOnError: true,
	}
}
