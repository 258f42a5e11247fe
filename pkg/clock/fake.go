package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Callbacks run synchronously on the
// goroutine calling Advance, in due order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *Fake
	id    int64
	due   time.Time
	fn    func()
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d < 0 {
		d = 0
	}
	f.nextID++
	t := &fakeTimer{clock: f, id: f.nextID, due: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that becomes due,
// including timers scheduled by callbacks during the advance.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		t := f.popDue(target)
		if t == nil {
			break
		}
		f.now = t.due
		f.mu.Unlock()
		t.fn()
		f.mu.Lock()
	}
	f.now = target
	f.mu.Unlock()
}

// Pending returns the number of scheduled, not yet fired timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// popDue removes and returns the earliest timer due at or before target.
// Ties are broken by scheduling order. Caller holds f.mu.
func (f *Fake) popDue(target time.Time) *fakeTimer {
	if len(f.timers) == 0 {
		return nil
	}
	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].due.Equal(f.timers[j].due) {
			return f.timers[i].id < f.timers[j].id
		}
		return f.timers[i].due.Before(f.timers[j].due)
	})
	t := f.timers[0]
	if t.due.After(target) {
		return nil
	}
	f.timers = f.timers[1:]
	return t
}

func (t *fakeTimer) Stop() bool {
	f := t.clock
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, other := range f.timers {
		if other == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}
