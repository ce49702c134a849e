// Package telemetry provides OpenTelemetry tracing for swarm nodes.
//
// Spans cover the coordination decisions a node makes: allocating a
// task, running a dispatched task, deciding a proposal and settling an
// election. Trace context travels with task dispatches so an executor's
// span joins the owner's trace.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with swarm-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return Noop()
	}
	return globalTracer
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFrom creates a tracer from a specific provider.
func NewTracerFrom(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// SetDebug enables or disables debug mode.
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

func end(span trace.Span, attrs []attribute.KeyValue, err error) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Allocation Spans ---

// AllocationSpanOptions describes an allocation decision.
type AllocationSpanOptions struct {
	TaskID      string
	TaskType    string
	AgentID     string // empty when no agent qualified
	Score       float64
	Attempt     int
	Candidates  int
	PayloadKind string // only included if debug=true
}

// StartAllocationSpan starts a span for allocating a task.
func (t *Tracer) StartAllocationSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "swarm.allocate", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("swarm.task.id", taskID))
	return ctx, span
}

// EndAllocationSpan ends an allocation span with attributes.
func (t *Tracer) EndAllocationSpan(span trace.Span, opts AllocationSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("swarm.task.type", opts.TaskType),
		attribute.Int("swarm.candidates", opts.Candidates),
	}
	if opts.AgentID != "" {
		attrs = append(attrs,
			attribute.String("swarm.agent.id", opts.AgentID),
			attribute.Float64("swarm.score", opts.Score),
			attribute.Int("swarm.task.attempt", opts.Attempt),
		)
	}
	if t.debug && opts.PayloadKind != "" {
		attrs = append(attrs, attribute.String("swarm.task.payload_kind", opts.PayloadKind))
	}
	end(span, attrs, err)
}

// --- Task Spans ---

// StartTaskSpan starts a span for running a dispatched task.
func (t *Tracer) StartTaskSpan(ctx context.Context, taskID, taskType string, attempt int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "swarm.task."+taskType, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("swarm.task.id", taskID),
		attribute.String("swarm.task.type", taskType),
		attribute.Int("swarm.task.attempt", attempt),
	)
	return ctx, span
}

// EndTaskSpan ends a task span.
func (t *Tracer) EndTaskSpan(span trace.Span, err error) {
	end(span, []attribute.KeyValue{attribute.Bool("swarm.task.success", err == nil)}, err)
}

// --- Consensus Spans ---

// ConsensusSpanOptions describes a decided proposal.
type ConsensusSpanOptions struct {
	ProposalID string
	Type       string
	Status     string
	Yes        int
	No         int
	Required   int
}

// RecordConsensus records a finished proposal as a single span.
func (t *Tracer) RecordConsensus(ctx context.Context, opts ConsensusSpanOptions) {
	_, span := t.tracer.Start(ctx, "swarm.consensus", trace.WithSpanKind(trace.SpanKindInternal))
	end(span, []attribute.KeyValue{
		attribute.String("swarm.proposal.id", opts.ProposalID),
		attribute.String("swarm.proposal.type", opts.Type),
		attribute.String("swarm.proposal.status", opts.Status),
		attribute.Int("swarm.proposal.yes", opts.Yes),
		attribute.Int("swarm.proposal.no", opts.No),
		attribute.Int("swarm.proposal.required", opts.Required),
	}, nil)
}

// --- Election Spans ---

// ElectionSpanOptions describes an election step.
type ElectionSpanOptions struct {
	NodeID   string
	Reason   string
	Outcome  string // promoted, challenged, adopted
	LeaderID string
	Targets  []string
}

// RecordElection records an election step as a single span.
func (t *Tracer) RecordElection(ctx context.Context, opts ElectionSpanOptions) {
	_, span := t.tracer.Start(ctx, "swarm.election", trace.WithSpanKind(trace.SpanKindInternal))
	attrs := []attribute.KeyValue{
		attribute.String("swarm.node.id", opts.NodeID),
		attribute.String("swarm.election.outcome", opts.Outcome),
	}
	if opts.Reason != "" {
		attrs = append(attrs, attribute.String("swarm.election.reason", opts.Reason))
	}
	if opts.LeaderID != "" {
		attrs = append(attrs, attribute.String("swarm.leader.id", opts.LeaderID))
	}
	if len(opts.Targets) > 0 {
		attrs = append(attrs, attribute.StringSlice("swarm.election.targets", opts.Targets))
	}
	end(span, attrs, nil)
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
