// Package clocktest provides a virtual [session.Clock] for deterministic timer tests.
package clocktest

import (
	"sync"
	"time"

	"github.com/MrEthical07/goAuthCore/session"
	"github.com/jonboulle/clockwork"
)

// FakeClock drives a clockwork fake clock. clockwork runs AfterFunc callbacks
// on their own goroutines; FakeClock tracks them so that [FakeClock.Advance]
// returns only after every callback it triggered has finished.
type FakeClock struct {
	inner *clockwork.FakeClock

	mu     sync.Mutex
	idle   *sync.Cond
	timers []*timer
	fired  int
}

type timer struct {
	clock   *FakeClock
	inner   clockwork.Timer
	when    time.Time
	stopped bool
	started bool
	done    bool
}

// New returns a FakeClock starting at start.
func New(start time.Time) *FakeClock {
	c := &FakeClock{inner: clockwork.NewFakeClockAt(start)}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// Now returns the virtual time.
func (c *FakeClock) Now() time.Time {
	return c.inner.Now()
}

// AfterFunc registers f to run once the virtual time reaches Now()+d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) session.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{clock: c, when: c.inner.Now().Add(d)}
	t.inner = c.inner.AfterFunc(d, func() { c.run(t, f) })
	c.timers = append(c.timers, t)
	return t
}

func (c *FakeClock) run(t *timer, f func()) {
	c.mu.Lock()
	t.started = true
	c.fired++
	c.mu.Unlock()

	f()

	c.mu.Lock()
	t.done = true
	c.idle.Broadcast()
	c.mu.Unlock()
}

// Advance moves virtual time forward by d and waits for every timer that came
// due to finish its callback.
func (c *FakeClock) Advance(d time.Duration) {
	target := c.inner.Now().Add(d)
	c.inner.Advance(d)

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.busyLocked(target) {
		c.idle.Wait()
	}
	c.pruneLocked()
}

func (c *FakeClock) busyLocked(target time.Time) bool {
	for _, t := range c.timers {
		if t.stopped || t.done {
			continue
		}
		if t.started || !t.when.After(target) {
			return true
		}
	}
	return false
}

func (c *FakeClock) pruneLocked() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.done {
			live = append(live, t)
		}
	}
	c.timers = live
}

// Pending returns the number of armed timers that have neither fired nor been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.started {
			n++
		}
	}
	return n
}

// Fired returns the total number of timer callbacks run so far.
func (c *FakeClock) Fired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// NextDeadline returns the earliest pending deadline, or false if none.
func (c *FakeClock) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		best  time.Time
		found bool
	)
	for _, t := range c.timers {
		if t.stopped || t.started {
			continue
		}
		if !found || t.when.Before(best) {
			best, found = t.when, true
		}
	}
	return best, found
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.started {
		return false
	}
	if !t.inner.Stop() {
		return false
	}
	t.stopped = true
	t.clock.idle.Broadcast()
	return true
}
