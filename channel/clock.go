package channel

import (
	"sync"
	"time"
)

// clock is the timer indirection the worker uses to wait out cycle
// intervals and retry backoffs. Production code gets realClock; tests get
// a manualClock whose sleeps are released by an explicit expire() call
// instead of elapsed wall-clock time. This mirrors health.Poll's use of
// time.Ticker (health/health.go) generalized into an injectable interface
// per the spec's virtual-clock-hook design note.
type clock interface {
	// now returns the current time.
	now() time.Time

	// sleepUntil returns a timer whose channel receives a value when
	// deadline is reached, or, for a manualClock, when expire() is called. Stop must
	// be called whenever the caller abandons the wait without receiving
	// from it, the same discipline time.Timer requires, so an abandoned
	// wait can't be mistaken for a live one later.
	sleepUntil(deadline time.Time) timer
}

// timer is the handle returned by clock.sleepUntil. Mirrors the part of
// time.Timer's API the worker actually uses.
type timer interface {
	C() <-chan time.Time
	// Stop cancels the timer. Calling it after the timer has already
	// fired, or more than once, is a harmless no-op.
	Stop()
}

// realClock uses time.Now and time.Timer; this is what production
// channels are constructed with.
type realClock struct{}

func (realClock) now() time.Time { return time.Now() }

func (realClock) sleepUntil(deadline time.Time) timer {
	d := time.Until(deadline)
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return firedTimer{ch: ch}
	}
	return realTimer{t: time.NewTimer(d)}
}

// realTimer wraps time.Timer to satisfy the timer interface.
type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop()               { r.t.Stop() }

// firedTimer is an already-fired, one-shot timer for a past deadline.
// Stop is a no-op: there is nothing left to cancel.
type firedTimer struct{ ch chan time.Time }

func (f firedTimer) C() <-chan time.Time { return f.ch }
func (f firedTimer) Stop()               {}

// manualClock is a test clock driven by explicit expire() calls instead of
// wall-clock time. now() still reflects the real clock (timestamps on
// envelopes are real), but sleepUntil never resolves on its own; the test
// harness calls expire() to release whichever waiter has been blocked
// longest, simulating "the interval elapsed".
type manualClock struct {
	mu      sync.Mutex
	waiters []chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{}
}

func (c *manualClock) now() time.Time { return time.Now() }

func (c *manualClock) sleepUntil(time.Time) timer {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	return manualTimer{c: c, ch: ch}
}

// manualTimer is the manualClock's timer handle. Stop removes the waiter
// from the clock's queue if it is still outstanding, so an abandoned wait
// (the worker moved on to a command branch instead of waiting for this
// timer to fire) can never be mistaken by a later expire() for the waiter
// the worker is actually blocked on.
type manualTimer struct {
	c  *manualClock
	ch chan time.Time
}

func (m manualTimer) C() <-chan time.Time { return m.ch }

func (m manualTimer) Stop() {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	for i, w := range m.c.waiters {
		if w == m.ch {
			m.c.waiters = append(m.c.waiters[:i], m.c.waiters[i+1:]...)
			return
		}
	}
}

// expire releases the oldest outstanding sleepUntil waiter, if any,
// simulating the elapse of one interval or backoff. It is a no-op if no
// waiter is currently registered.
func (c *manualClock) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.waiters) == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters = c.waiters[1:]
	ch <- time.Now()
}

// pending reports how many sleepUntil calls are currently outstanding.
// Test-only convenience for asserting the worker is actually waiting
// before calling expire.
func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
