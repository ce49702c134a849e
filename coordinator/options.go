package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/swarmkit/clock"
	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/consensus"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/state"
	"github.com/vinayprograms/swarmkit/tasks"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// TaskHandler runs a task dispatched to this node. A nil error reports
// success. The context ends at TaskTimeout, on cancellation by the
// owner, or when the node stops.
type TaskHandler func(ctx context.Context, task tasks.Task) (codec.Payload, error)

// ProposalHandler decides how this node votes on a peer's proposal.
type ProposalHandler func(ctx context.Context, p consensus.Proposal) bool

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	clock           clock.Clock
	logger          *logging.Logger
	codec           codec.Codec
	taskHandler     TaskHandler
	proposalHandler ProposalHandler
	tracer          *telemetry.Tracer
	mirror          *state.Mirror
	newID           func() string
	logRate         int
	logWindow       time.Duration
}

func defaultOptions() options {
	return options{
		clock:  clock.Real(),
		logger: logging.New(),
		codec:  codec.JSON,
		newID:  uuid.NewString,

		logRate:   10,
		logWindow: time.Second,
	}
}

// WithClock sets the time source. Default: clock.Real().
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger. Default: logging.New().
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCodec sets the wire codec. Every node of a swarm must use the
// same one. Default: codec.JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithTaskHandler sets the function that runs tasks dispatched to this
// node. Without one, dispatched tasks fail at once.
func WithTaskHandler(h TaskHandler) Option {
	return func(o *options) { o.taskHandler = h }
}

// WithProposalHandler makes the node vote automatically on proposals
// opened by peers.
func WithProposalHandler(h ProposalHandler) Option {
	return func(o *options) { o.proposalHandler = h }
}

// WithTracer sets the tracer. Default: telemetry.GetTracer().
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithMirror writes the directory and owned tasks to a state store on
// every maintenance pass.
func WithMirror(m *state.Mirror) Option {
	return func(o *options) { o.mirror = m }
}

// WithIDGenerator sets the generator for task and proposal ids.
// Default: uuid.NewString.
func WithIDGenerator(f func() string) Option {
	return func(o *options) { o.newID = f }
}

// WithLogRate bounds log rebroadcast to n entries per window. Entries
// over the limit are dropped and counted on the next one sent. A
// non-positive n removes the bound. Default: 10 per second.
func WithLogRate(n int, window time.Duration) Option {
	return func(o *options) { o.logRate, o.logWindow = n, window }
}
