package session

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a cancellable one-shot task.
type Timer interface {
	// Stop prevents the task from firing. It returns false if the task already
	// fired or was stopped.
	Stop() bool
}

// Clock is the time source used by [Manager].
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// FromClockwork adapts a clockwork clock, real or fake, to [Clock].
func FromClockwork(c clockwork.Clock) Clock {
	return clockworkClock{c}
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return FromClockwork(clockwork.NewRealClock())
}

type clockworkClock struct {
	c clockwork.Clock
}

func (w clockworkClock) Now() time.Time { return w.c.Now() }

// AfterFunc runs f on its own goroutine after d.
func (w clockworkClock) AfterFunc(d time.Duration, f func()) Timer {
	return w.c.AfterFunc(d, f)
}
