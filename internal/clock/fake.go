package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests. Time moves only when
// Advance is called. AfterFunc callbacks run synchronously inside
// Advance in deadline order, so they must not call Advance themselves.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time // tickers
	callback func()         // AfterFunc
	interval time.Duration  // non-zero for tickers
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.waitersChanged = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	c.waitersChanged.Broadcast()
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		return true
	}}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &fakeWaiter{deadline: c.current.Add(d), channel: ch, interval: d}
	c.waiters = append(c.waiters, w)
	c.waitersChanged.Broadcast()

	return &Ticker{C: ch, stopFunc: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.stopped = true
	}}
}

// Advance moves the clock forward by d and fires every timer and ticker
// whose deadline is not after the new time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		toFire := c.collectExpired(target)
		if len(toFire) == 0 {
			return
		}
		sort.SliceStable(toFire, func(i, j int) bool {
			return toFire[i].deadline.Before(toFire[j].deadline)
		})
		for _, w := range toFire {
			if w.callback != nil {
				w.callback()
				continue
			}
			select {
			case w.channel <- target:
			default:
			}
		}
	}
}

func (c *FakeClock) collectExpired(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toFire, remaining []*fakeWaiter
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if !w.deadline.After(target) {
			toFire = append(toFire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	for _, w := range toFire {
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			remaining = append(remaining, w)
		} else {
			w.fired = true
		}
	}
	c.waiters = remaining
	return toFire
}

// WaitForTimers blocks until at least n timers or tickers are pending.
// Use it before Advance when a goroutine registers the timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.waitersChanged.Wait()
	}
}

// PendingCount returns the number of active timers and tickers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}
