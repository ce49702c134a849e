package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/clock"
	"github.com/vinayprograms/swarmkit/codec"
	"github.com/vinayprograms/swarmkit/consensus"
	"github.com/vinayprograms/swarmkit/directory"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/protocol"
	"github.com/vinayprograms/swarmkit/tasks"
)

func fastConfig(id string) Config {
	cfg := DefaultConfig(id)
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.AgentTimeout = time.Second
	cfg.MaintenanceInterval = 50 * time.Millisecond
	cfg.ElectionTimeout = 200 * time.Millisecond
	cfg.LeaderElectionEnabled = false
	return cfg
}

func startCoordinator(t *testing.T, b bus.MessageBus, cfg Config, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	c, err := New(cfg, b, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func knows(c *Coordinator, id string) func() bool {
	return func() bool {
		_, err := c.Agent(context.Background(), id)
		return err == nil
	}
}

func TestNew_Validation(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	if _, err := New(Config{}, b); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("empty config error = %v", err)
	}
	if _, err := New(DefaultConfig("a"), nil); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("nil bus error = %v", err)
	}
}

func TestCoordinator_Lifecycle(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	c, err := New(fastConfig("a"), b, WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := c.Agents(ctx, directory.Filter{}); err != ErrNotRunning {
		t.Errorf("before Start: %v, want ErrNotRunning", err)
	}
	if err := c.Stop(ctx); err != ErrNotRunning {
		t.Errorf("Stop before Start: %v", err)
	}

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(ctx); err != ErrAlreadyStarted {
		t.Errorf("second Start: %v, want ErrAlreadyStarted", err)
	}
	if !c.Running() {
		t.Error("not running after Start")
	}

	self, err := c.Agent(ctx, "a")
	if err != nil || self.Status != directory.StatusIdle {
		t.Errorf("self = %+v, %v", self, err)
	}
	if _, err := c.Agent(ctx, "ghost"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("unknown agent error = %v", err)
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Running() {
		t.Error("running after Stop")
	}
	if _, err := c.Tasks(ctx); err != ErrNotRunning {
		t.Errorf("after Stop: %v, want ErrNotRunning", err)
	}
	if err := c.Stop(ctx); err != ErrNotRunning {
		t.Errorf("second Stop: %v", err)
	}
}

func TestCoordinator_TaskRoundTrip(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	ctx := context.Background()

	hub := startCoordinator(t, b, fastConfig("hub"))
	wcfg := fastConfig("w1")
	wcfg.Capabilities = []string{"scan"}
	startCoordinator(t, b, wcfg, WithTaskHandler(func(ctx context.Context, task tasks.Task) (codec.Payload, error) {
		var area struct{ Radius float64 }
		if err := task.Payload.Decode(&area); err != nil {
			return codec.Payload{}, err
		}
		return codec.NewPayload("scan-result", map[string]float64{"covered": area.Radius * 2})
	}))

	eventually(t, "hub to see w1", knows(hub, "w1"))

	task, err := hub.CreateTask(ctx, tasks.Spec{
		Type:         "scan",
		Payload:      codec.MustPayload("area", map[string]float64{"radius": 12}),
		Requirements: tasks.Requirements{Capabilities: []string{"scan"}},
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	var got tasks.Task
	eventually(t, "task completion", func() bool {
		got, err = hub.Task(ctx, task.ID)
		return err == nil && got.Status == tasks.StatusCompleted
	})
	if got.AssignedTo != "w1" {
		t.Errorf("AssignedTo = %q", got.AssignedTo)
	}
	var result map[string]float64
	if err := got.Result.Decode(&result); err != nil || result["covered"] != 24 {
		t.Errorf("result = %v, %v", result, err)
	}

	if _, err := hub.CompleteTask(ctx, task.ID, true, codec.Payload{}); !errors.Is(err, errors.ErrCodeConflict) {
		t.Errorf("completing a finished task: %v, want conflict", err)
	}
	if _, err := hub.CompleteTask(ctx, "missing", true, codec.Payload{}); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("completing an unknown task: %v, want not found", err)
	}
}

func TestCoordinator_ElectionAndConsensus(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	ctx := context.Background()

	a := startCoordinator(t, b, fastConfig("a"))
	bb := startCoordinator(t, b, fastConfig("b"), WithProposalHandler(
		func(ctx context.Context, p consensus.Proposal) bool { return true }))
	eventually(t, "a to see b", knows(a, "b"))

	if err := a.TriggerElection(ctx); err != nil {
		t.Fatalf("TriggerElection: %v", err)
	}
	for _, c := range []*Coordinator{a, bb} {
		c := c
		eventually(t, c.ID()+" to follow b", func() bool {
			l, err := c.Leadership(ctx)
			return err == nil && l.LeaderID == "b"
		})
	}

	p, err := a.Propose(ctx, "config-change", codec.MustPayload("config", map[string]int{"heartbeat_ms": 500}))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	eventually(t, "proposal accepted", func() bool {
		got, err := a.Proposal(ctx, p.ID)
		return err == nil && got.Status == consensus.StatusAccepted
	})
	if _, err := a.Vote(ctx, p.ID, false); !errors.Is(err, errors.ErrCodeConflict) {
		t.Errorf("vote on a decided proposal: %v", err)
	}
}

func TestCoordinator_BroadcastsWarnings(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sub, err := b.Subscribe(protocol.Subject(protocol.DefaultPrefix, protocol.TypeLog))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	logger := logging.Discard()
	c := startCoordinator(t, b, fastConfig("a"), WithLogger(logger))

	logger.Info("routine")
	logger.Warn("battery low", map[string]interface{}{"level": 12})

	select {
	case msg := <-sub.Messages():
		m, err := protocol.Decode(codec.JSON, msg.Data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		entry, ok := m.(*protocol.Log)
		if !ok {
			t.Fatalf("got %T", m)
		}
		if entry.Message != "battery low" || entry.Level != "WARN" || entry.SenderID != c.ID() {
			t.Errorf("entry = %+v", entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no log broadcast")
	}
}

func TestCoordinator_DrainWaitsForHandlers(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	ctx := context.Background()

	started := make(chan struct{})
	finish := make(chan struct{})
	hub := startCoordinator(t, b, fastConfig("hub"))
	wcfg := fastConfig("w1")
	wcfg.Capabilities = []string{"work"}
	w1 := startCoordinator(t, b, wcfg, WithTaskHandler(func(ctx context.Context, task tasks.Task) (codec.Payload, error) {
		close(started)
		<-finish
		return codec.Payload{}, nil
	}))
	eventually(t, "hub to see w1", knows(hub, "w1"))

	task, err := hub.CreateTask(ctx, tasks.Spec{
		Type:         "work",
		Requirements: tasks.Requirements{Capabilities: []string{"work"}},
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	drained := make(chan error, 1)
	go func() { drained <- w1.Drain(ctx) }()

	select {
	case err := <-drained:
		t.Fatalf("Drain returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(finish)
	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("Drain: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return")
	}

	eventually(t, "task completion", func() bool {
		got, err := hub.Task(ctx, task.ID)
		return err == nil && got.Status == tasks.StatusCompleted
	})
	eventually(t, "hub to see w1 offline", func() bool {
		a, err := hub.Agent(ctx, "w1")
		return err == nil && a.Status == directory.StatusOffline
	})
}

func TestCoordinator_StopCancelsHandlers(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	started := make(chan struct{})
	cfg := fastConfig("solo")
	cfg.Capabilities = []string{"work"}
	c, err := New(cfg, b, WithLogger(logging.Discard()), WithTaskHandler(
		func(ctx context.Context, task tasks.Task) (codec.Payload, error) {
			close(started)
			<-ctx.Done()
			return codec.Payload{}, ctx.Err()
		}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := c.CreateTask(ctx, tasks.Spec{
		Type:         "work",
		Requirements: tasks.Requirements{Capabilities: []string{"work"}},
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	<-started

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestCoordinator_LogRateLimit(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sub, err := b.Subscribe(protocol.Subject(protocol.DefaultPrefix, protocol.TypeLog))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := logging.Discard()
	startCoordinator(t, b, fastConfig("a"), WithLogger(logger), WithClock(clk), WithLogRate(1, time.Minute))

	next := func() *protocol.Log {
		t.Helper()
		select {
		case msg := <-sub.Messages():
			m, err := protocol.Decode(codec.JSON, msg.Data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			return m.(*protocol.Log)
		case <-time.After(2 * time.Second):
			t.Fatal("no log broadcast")
			return nil
		}
	}

	logger.Warn("first")
	logger.Warn("second")
	logger.Warn("third")
	if got := next(); got.Message != "first" {
		t.Fatalf("got %q, want first", got.Message)
	}

	clk.Advance(time.Minute)
	logger.Warn("fourth")
	got := next()
	if got.Message != "fourth" {
		t.Fatalf("got %q, want fourth", got.Message)
	}
	if n, _ := got.Fields["dropped"].(float64); n != 2 {
		t.Errorf("dropped = %v, want 2", got.Fields["dropped"])
	}
}
