// Package clock provides a time abstraction for the entity timers.
// Use RealClock in the daemon and MockClock in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the timer primitive the engine is built on.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// AfterFunc waits for the duration to elapse and then calls f.
	// The returned Timer cancels the call with Stop.
	AfterFunc(d time.Duration, f func()) Timer

	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration
}

// Timer represents a single scheduled callback that can be cancelled
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call stops the timer,
	// false if the timer has already expired or been stopped.
	Stop() bool
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

// NewRealClock creates a new RealClock instance
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc calls f in its own goroutine once d has elapsed
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Since returns the time elapsed since t
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock is a Clock whose time only moves through Advance or Set.
// Timer callbacks run synchronously on the goroutine that advances the clock.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
	seq     uint64
}

type mockTimer struct {
	clock    *MockClock
	deadline time.Time
	seq      uint64
	f        func()
	stopped  bool
}

// NewMockClock creates a new MockClock starting at the given time
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

// Now returns the mock current time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to be called once the clock reaches now+d
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	timer := &mockTimer{
		clock:    c,
		deadline: c.current.Add(d),
		seq:      c.seq,
		f:        f,
	}
	c.timers = append(c.timers, timer)
	return timer
}

// Since returns the time elapsed since t using the mock current time
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// Pending returns the number of timers that are scheduled and not stopped
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing expired timers in deadline order.
// The clock reads each timer's deadline while its callback runs, so callbacks
// that schedule new timers within the window are fired in the same call.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextExpired(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		next.stopped = true
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		f := next.f
		c.mu.Unlock()

		// Fire outside the lock so callbacks can use the clock
		f()
	}
}

// Set moves the clock to t. Timers fire only when t is after the current time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if t.After(current) {
		c.Advance(t.Sub(current))
		return
	}

	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// nextExpired removes stopped timers and returns the earliest one due by target.
// Caller must hold c.mu.
func (c *MockClock) nextExpired(target time.Time) *mockTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live

	sort.SliceStable(c.timers, func(i, j int) bool {
		if !c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].deadline.Before(c.timers[j].deadline)
		}
		return c.timers[i].seq < c.timers[j].seq
	})

	if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
		return nil
	}
	return c.timers[0]
}

// Stop prevents the timer from firing
func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}
