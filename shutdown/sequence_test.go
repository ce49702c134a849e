package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSequence_RunsPhasesInOrder(t *testing.T) {
	seq := NewSequence(DefaultConfig(), nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) Func {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	seq.Register("telemetry", PhaseTelemetry, record("telemetry"))
	seq.Register("bus", PhaseTransport, record("bus"))
	seq.Register("coordinator", PhaseIntake, record("coordinator"))
	seq.Register("state", PhaseStorage, record("state"))

	if err := seq.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	want := []string{"coordinator", "bus", "state", "telemetry"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}

	select {
	case <-seq.Done():
	default:
		t.Error("Done not closed")
	}
	if r := seq.Result(); r == nil || len(r.Results) != 4 || r.Failed() {
		t.Errorf("result = %+v", r)
	}
}

func TestSequence_SamePhaseRunsConcurrently(t *testing.T) {
	seq := NewSequence(DefaultConfig(), nil)

	// Each handler waits for the other; serial execution would deadlock
	// until the phase timeout.
	a, b := make(chan struct{}), make(chan struct{})
	seq.Register("a", PhaseNode, func(ctx context.Context) error {
		close(a)
		select {
		case <-b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	seq.Register("b", PhaseNode, func(ctx context.Context) error {
		close(b)
		select {
		case <-a:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := seq.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
}

func TestSequence_FailureStopsLaterPhases(t *testing.T) {
	seq := NewSequence(Config{}, nil)
	boom := errors.New("boom")

	ranLater := false
	seq.Register("intake", PhaseIntake, func(context.Context) error { return boom })
	seq.Register("storage", PhaseStorage, func(context.Context) error {
		ranLater = true
		return nil
	})

	err := seq.ShutdownWithTimeout(time.Second)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if ranLater {
		t.Error("later phase ran after a failure")
	}
	r := seq.Result()
	if !r.Aborted || len(r.FailedHandlers()) != 1 || r.FailedHandlers()[0] != "intake" {
		t.Errorf("result = %+v", r)
	}
}

func TestSequence_ContinueOnError(t *testing.T) {
	seq := NewSequence(Config{ContinueOnError: true}, nil)

	ranLater := false
	seq.Register("intake", PhaseIntake, func(context.Context) error { return errors.New("boom") })
	seq.Register("storage", PhaseStorage, func(context.Context) error {
		ranLater = true
		return nil
	})

	if err := seq.ShutdownWithTimeout(time.Second); err == nil {
		t.Error("expected joined error")
	}
	if !ranLater {
		t.Error("later phase skipped despite ContinueOnError")
	}
	if seq.Result().Aborted {
		t.Error("result marked aborted")
	}
}

func TestSequence_PhaseTimeoutAbandonsHandler(t *testing.T) {
	seq := NewSequence(Config{PhaseTimeout: 20 * time.Millisecond, ContinueOnError: true}, nil)

	release := make(chan struct{})
	defer close(release)
	seq.Register("stuck", PhaseNode, func(context.Context) error {
		<-release
		return nil
	})
	telemetryRan := false
	seq.Register("telemetry", PhaseTelemetry, func(context.Context) error {
		telemetryRan = true
		return nil
	})

	err := seq.ShutdownWithTimeout(time.Second)
	if !errors.Is(err, ErrPhaseTimeout) {
		t.Errorf("err = %v, want ErrPhaseTimeout", err)
	}
	if !telemetryRan {
		t.Error("sequence did not move past the stuck phase")
	}
}

func TestSequence_OnlyOnce(t *testing.T) {
	seq := NewSequence(DefaultConfig(), nil)
	seq.Register("x", PhaseIntake, func(context.Context) error { return nil })

	if err := seq.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := seq.ShutdownWithTimeout(time.Second); err != ErrAlreadyShuttingDown {
		t.Errorf("second Shutdown = %v", err)
	}

	seq.Register("late", PhaseIntake, func(context.Context) error { return nil })
	if len(seq.Result().Results) != 1 {
		t.Error("late registration changed the result")
	}
}

func TestSequence_WaitForSignalHonorsContext(t *testing.T) {
	seq := NewSequence(DefaultConfig(), nil)
	called := false
	seq.Register("x", PhaseIntake, func(context.Context) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := seq.WaitForSignal(ctx, time.Second); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("handler not run after context cancel")
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseNode.String() != "node" || Phase(99).String() != "custom" {
		t.Error("phase names mismatch")
	}
	if (Config{PhaseTimeout: -1}).Validate() != ErrInvalidConfig {
		t.Error("negative timeout accepted")
	}
}
