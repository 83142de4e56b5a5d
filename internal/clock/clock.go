// Package clock lets TTL and polling code run against a deterministic clock in
// tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// After delivers the current time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a Clock that only moves when told to. After advances the clock by d
// and fires at once, so a polling loop runs to completion without real sleeps.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	sleeps  []time.Duration
}

func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
	f.sleeps = append(f.sleeps, d)
	ch := make(chan time.Time, 1)
	ch <- f.current
	return ch
}

// Advance moves the clock forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Sleeps returns the durations passed to After, in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
