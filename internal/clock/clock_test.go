package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	fired := false
	f.AfterFunc(5*time.Second, func() { fired = true })

	f.Advance(4 * time.Second)
	if fired {
		t.Fatalf("fired before due")
	}
	f.Advance(1 * time.Second)
	if !fired {
		t.Fatalf("did not fire when due")
	}
}

func TestFakeTimerStopPreventsFire(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	fired := false
	timer := f.AfterFunc(5*time.Second, func() { fired = true })
	timer.Stop()

	f.Advance(10 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestFakeTickerFiresRepeatedly(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	count := 0
	ticker := f.NewTicker(1*time.Second, func() { count++ })
	defer ticker.Stop()

	f.Advance(3500 * time.Millisecond)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestFakeTickerStopEndsFiring(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	count := 0
	ticker := f.NewTicker(1*time.Second, func() { count++ })
	f.Advance(2 * time.Second)
	ticker.Stop()
	f.Advance(5 * time.Second)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestFakeOrdersMultipleWaitersByFireTime(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	var order []string
	f.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	f.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	f.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	f.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
}
