package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_Now(t *testing.T) {
	c := Fake(epoch)
	if !c.Now().Equal(epoch) {
		t.Errorf("Now = %v, want %v", c.Now(), epoch)
	}

	c.Advance(3 * time.Second)
	if got := c.Now().Sub(epoch); got != 3*time.Second {
		t.Errorf("elapsed = %v, want 3s", got)
	}
}

func TestFake_AfterFuncOrder(t *testing.T) {
	c := Fake(epoch)

	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.AfterFunc(5*time.Second, func() { order = append(order, "late") })

	c.Advance(2 * time.Second)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}
}

func TestFake_AfterFuncSeesDeadline(t *testing.T) {
	c := Fake(epoch)

	var at time.Time
	c.AfterFunc(time.Second, func() { at = c.Now() })
	c.Advance(10 * time.Second)

	if !at.Equal(epoch.Add(time.Second)) {
		t.Errorf("callback time = %v, want %v", at, epoch.Add(time.Second))
	}
}

func TestFake_NestedTimer(t *testing.T) {
	c := Fake(epoch)

	fired := false
	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { fired = true })
	})
	c.Advance(2 * time.Second)

	if !fired {
		t.Error("timer registered inside a callback should fire within the same advance")
	}
}

func TestFake_Stop(t *testing.T) {
	c := Fake(epoch)

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Error("first Stop should report true")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}

	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_Ticker(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("expected a tick")
	}

	c.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C:
		t.Fatal("unexpected tick before the interval")
	default:
	}

	ticker.Stop()
	c.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("tick after Stop")
	default:
	}
}

func TestTimer_NilStop(t *testing.T) {
	var timer *Timer
	if timer.Stop() {
		t.Error("nil timer Stop should be false")
	}
}
