package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests. The zero value
// is not usable; construct with NewFake.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	seq     uint64
}

type fakeWaiter struct {
	id       uint64
	fireAt   time.Time
	interval time.Duration // zero for one-shot timers
	fn       func()
}

// NewFake returns a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

type fakeTimer struct {
	f  *Fake
	id uint64
}

func (t fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	for i, w := range t.f.waiters {
		if w.id == t.id {
			t.f.waiters = append(t.f.waiters[:i], t.f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.seq
	f.waiters = append(f.waiters, &fakeWaiter{id: id, fireAt: f.now.Add(d), fn: fn})
	return fakeTimer{f: f, id: id}
}

type fakeTicker struct {
	f  *Fake
	id uint64
}

func (t fakeTicker) Stop() {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	for i, w := range t.f.waiters {
		if w.id == t.id {
			t.f.waiters = append(t.f.waiters[:i], t.f.waiters[i+1:]...)
			return
		}
	}
}

func (f *Fake) NewTicker(d time.Duration, fn func()) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.seq
	f.waiters = append(f.waiters, &fakeWaiter{id: id, fireAt: f.now.Add(d), interval: d, fn: fn})
	return fakeTicker{f: f, id: id}
}

// Advance moves the clock forward by d, firing every due timer/ticker in
// fireAt order. Ticker callbacks are rescheduled for their next interval
// before firing, so a callback that itself calls Advance cannot observe a
// stale pending entry for itself.
func (f *Fake) Advance(d time.Duration) {
	target := f.Now().Add(d)
	for {
		f.mu.Lock()
		due := -1
		for i, w := range f.waiters {
			if !w.fireAt.After(target) {
				if due == -1 || w.fireAt.Before(f.waiters[due].fireAt) {
					due = i
				}
			}
		}
		if due == -1 {
			f.now = target
			f.mu.Unlock()
			return
		}
		w := f.waiters[due]
		f.now = w.fireAt
		if w.interval > 0 {
			w.fireAt = w.fireAt.Add(w.interval)
		} else {
			f.waiters = append(f.waiters[:due], f.waiters[due+1:]...)
		}
		f.mu.Unlock()

		w.fn()
	}
}
