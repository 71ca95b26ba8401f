// Package clock abstracts time so that the assignment poll, reveal delay,
// anchor sweep, and watchdog-expiry timers can be driven deterministically in
// tests instead of waiting on real sleeps.
package clock

import "time"

// Clock is the time source threaded through every component that schedules
// work. System is the production implementation; Fake is used by tests.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn to run once after d elapses and returns a Timer
	// that can cancel the pending call.
	AfterFunc(d time.Duration, fn func()) Timer
	// NewTicker returns a Ticker that fires fn repeatedly every d until
	// stopped.
	NewTicker(d time.Duration, fn func()) Ticker
}

// Timer cancels a scheduled one-shot call. Stop is idempotent.
type Timer interface {
	Stop() bool
}

// Ticker cancels a scheduled repeating call. Stop is idempotent.
type Ticker interface {
	Stop()
}

// System is the real wall-clock Clock backed by the standard library.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{time.AfterFunc(d, fn)}
}

func (System) NewTicker(d time.Duration, fn func()) Ticker {
	t := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	return &systemTicker{t: t, done: done}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Stop() bool { return s.t.Stop() }

type systemTicker struct {
	t    *time.Ticker
	done chan struct{}
}

func (s *systemTicker) Stop() {
	s.t.Stop()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
