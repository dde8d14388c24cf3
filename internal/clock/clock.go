// Package clock lets the scheduler and the card queue take time from an
// injectable source. Production code uses Real(); tests use Fake() and
// move time forward explicitly with Advance.
package clock

import "time"

// Clock is the subset of the time package the terminal depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks every d on the returned ticker's C.
	// Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. C has capacity 1; ticks are dropped
// when the consumer falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It returns false if the timer
// already fired or was stopped before; calling it then is harmless.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stopFunc: t.Stop}
}
