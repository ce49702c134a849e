package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder(debug bool) (*Tracer, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewTracerFrom(tp, "test", debug), sr
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestGetTracer_DefaultsToNoop(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	_, span := tr.StartSpan(context.Background(), "x")
	if span.SpanContext().IsValid() {
		t.Error("noop tracer produced a valid span")
	}
	span.End()
}

func TestAllocationSpan(t *testing.T) {
	tr, sr := newRecorder(true)

	_, span := tr.StartAllocationSpan(context.Background(), "t-1")
	tr.EndAllocationSpan(span, AllocationSpanOptions{
		TaskType:    "scan",
		AgentID:     "bot1",
		Score:       195,
		Attempt:     1,
		Candidates:  2,
		PayloadKind: "area",
	}, nil)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended %d spans", len(spans))
	}
	s := spans[0]
	if s.Name() != "swarm.allocate" || s.Status().Code != codes.Ok {
		t.Errorf("span %s status %v", s.Name(), s.Status())
	}
	if v, _ := attr(s, "swarm.agent.id"); v.AsString() != "bot1" {
		t.Errorf("agent = %v", v.AsString())
	}
	if v, _ := attr(s, "swarm.score"); v.AsFloat64() != 195 {
		t.Errorf("score = %v", v.AsFloat64())
	}
	if _, ok := attr(s, "swarm.task.payload_kind"); !ok {
		t.Error("payload kind missing in debug mode")
	}
}

func TestAllocationSpan_NoCandidate(t *testing.T) {
	tr, sr := newRecorder(false)

	_, span := tr.StartAllocationSpan(context.Background(), "t-1")
	tr.EndAllocationSpan(span, AllocationSpanOptions{TaskType: "scan", PayloadKind: "area"}, errors.New("no eligible agent"))

	s := sr.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", s.Status().Code)
	}
	if _, ok := attr(s, "swarm.agent.id"); ok {
		t.Error("agent recorded without a winner")
	}
	if _, ok := attr(s, "swarm.task.payload_kind"); ok {
		t.Error("payload kind recorded outside debug mode")
	}
}

func TestTaskSpan_JoinsPropagatedTrace(t *testing.T) {
	tr, sr := newRecorder(false)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, parent := tr.StartAllocationSpan(context.Background(), "t-1")
	carrier := MapCarrier{}
	InjectContext(ctx, carrier)
	tr.EndAllocationSpan(parent, AllocationSpanOptions{}, nil)

	if len(carrier.Keys()) == 0 || carrier.Get("traceparent") == "" {
		t.Fatal("traceparent not injected")
	}

	remote := ExtractContext(context.Background(), carrier)
	_, span := tr.StartTaskSpan(remote, "t-1", "scan", 1)
	tr.EndTaskSpan(span, errors.New("sensor fault"))

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended %d spans", len(spans))
	}
	task := spans[1]
	if task.Parent().TraceID() != spans[0].SpanContext().TraceID() {
		t.Error("task span not in the allocation trace")
	}
	if v, _ := attr(task, "swarm.task.success"); v.AsBool() {
		t.Error("success recorded for a failed task")
	}
}

func TestRecordConsensusAndElection(t *testing.T) {
	tr, sr := newRecorder(false)

	tr.RecordConsensus(context.Background(), ConsensusSpanOptions{
		ProposalID: "p-1", Type: "config-change", Status: "accepted", Yes: 2, Required: 2,
	})
	tr.RecordElection(context.Background(), ElectionSpanOptions{
		NodeID: "a", Outcome: "challenged", Targets: []string{"b", "c"},
	})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended %d spans", len(spans))
	}
	if v, _ := attr(spans[0], "swarm.proposal.status"); v.AsString() != "accepted" {
		t.Errorf("status = %v", v.AsString())
	}
	if v, _ := attr(spans[1], "swarm.election.targets"); len(v.AsStringSlice()) != 2 {
		t.Errorf("targets = %v", v.AsStringSlice())
	}
	if _, ok := attr(spans[1], "swarm.leader.id"); ok {
		t.Error("leader recorded for a challenge")
	}
}

func TestInitProvider_RequiresEndpoint(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	if _, err := InitProvider(context.Background(), ProviderConfig{}); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown protocol")
	}
}

func TestProviderConfig_Resolve(t *testing.T) {
	t.Setenv(EnvEndpoint, "https://collector:4318")
	t.Setenv(EnvServiceName, "")

	cfg, err := ProviderConfig{NodeID: "bot1"}.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Endpoint != "collector:4318" || cfg.ServiceName != "swarm-node" || cfg.Protocol != "grpc" {
		t.Errorf("resolved = %+v", cfg)
	}

	if _, err := (ProviderConfig{SampleRatio: 1.5}).resolve(); err == nil {
		t.Error("expected error for sample ratio above 1")
	}

	res, err := cfg.resource()
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	found := false
	for _, kv := range res.Attributes() {
		if kv.Key == "swarm.agent.id" && kv.Value.AsString() == "bot1" {
			found = true
		}
	}
	if !found {
		t.Errorf("resource lacks swarm.agent.id: %v", res.Attributes())
	}
}
