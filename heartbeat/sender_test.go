package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/vinayprograms/swarmkit/clock"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestSender(t *testing.T, clk clock.Clock, interval time.Duration) (*Sender, chan time.Time) {
	t.Helper()
	beats := make(chan time.Time, 16)
	s, err := NewSender(Config{
		Interval: interval,
		Clock:    clk,
		Beat:     func(now time.Time) { beats <- now },
	})
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}
	return s, beats
}

func waitBeat(t *testing.T, beats <-chan time.Time) time.Time {
	t.Helper()
	select {
	case now := <-beats:
		return now
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for beat")
		return time.Time{}
	}
}

// --- Unit Tests ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Beat: func(time.Time) {}}, false},
		{"missing beat", Config{Interval: time.Second}, true},
		{"negative interval", Config{Interval: -1, Beat: func(time.Time) {}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSender_Defaults(t *testing.T) {
	s, err := NewSender(Config{Beat: func(time.Time) {}})
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}
	if s.Interval() != DefaultInterval {
		t.Errorf("Interval = %v, want %v", s.Interval(), DefaultInterval)
	}
	if _, err := NewSender(Config{}); err != ErrInvalidConfig {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestSender_BeatsOnTicks(t *testing.T) {
	clk := clock.Fake(t0)
	s, beats := newTestSender(t, clk, time.Second)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	if got := waitBeat(t, beats); !got.Equal(t0) {
		t.Errorf("first beat at %v, want immediate", got)
	}

	for i := 1; i <= 3; i++ {
		clk.Advance(time.Second)
		got := waitBeat(t, beats)
		if want := t0.Add(time.Duration(i) * time.Second); !got.Equal(want) {
			t.Errorf("beat %d at %v, want %v", i, got, want)
		}
	}

	if s.Beats() != 4 {
		t.Errorf("Beats = %d, want 4", s.Beats())
	}
}

func TestSender_StartStop(t *testing.T) {
	clk := clock.Fake(t0)
	s, beats := newTestSender(t, clk, time.Second)

	if err := s.Stop(); err != ErrNotStarted {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	waitBeat(t, beats)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if s.Running() {
		t.Error("still running after Stop")
	}
	if clk.Pending() != 0 {
		t.Errorf("ticker left armed: %d pending", clk.Pending())
	}

	clk.Advance(5 * time.Second)
	select {
	case <-beats:
		t.Error("beat after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSender_ContextCancel(t *testing.T) {
	clk := clock.Fake(t0)
	s, beats := newTestSender(t, clk, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	waitBeat(t, beats)
	cancel()

	deadline := time.Now().Add(time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Running() {
		t.Error("sender still running after context cancel")
	}
}

func TestSender_RealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}
	s, beats := newTestSender(t, nil, 10*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 3; i++ {
		waitBeat(t, beats)
	}
}
