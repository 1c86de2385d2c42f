package timectrl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by the scheduler, tracker and supervisor.
// Depending on it rather than the time package lets tests drive time
// explicitly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the current time once d has
	// elapsed on this clock.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep blocks for d on the clock or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

// ManualClock only moves when told to. Pending After channels fire when
// Advance or AdvanceTo moves the clock past their deadline.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewManualClock constructs a manual clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After implements Clock.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	at := c.now.Add(d)

	// Keep waiters sorted by deadline so AdvanceTo can fire a prefix.
	idx := sort.Search(len(c.waiters), func(i int) bool {
		return c.waiters[i].at.After(at)
	})
	c.waiters = append(c.waiters, waiter{})
	copy(c.waiters[idx+1:], c.waiters[idx:])
	c.waiters[idx] = waiter{at: at, ch: ch}
	return ch
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.AdvanceTo(c.Now().Add(d))
}

// AdvanceTo moves the clock to t and fires every waiter due at or before t.
// Moving backwards is ignored.
func (c *ManualClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	if t.Before(c.now) {
		c.mu.Unlock()
		return
	}
	c.now = t

	n := 0
	for n < len(c.waiters) && !c.waiters[n].at.After(t) {
		n++
	}
	due := append([]waiter(nil), c.waiters[:n]...)
	c.waiters = c.waiters[n:]
	c.mu.Unlock()

	for _, w := range due {
		w.ch <- t
	}
}

// Waiters returns the number of pending After channels.
func (c *ManualClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// SteppingClock is a virtual clock that jumps forward by d on every After
// call and fires immediately. Loops driven by it run a whole simulated
// timeline without waiting on the wall clock.
type SteppingClock struct {
	mu        sync.Mutex
	now       time.Time
	listeners []func(time.Time)
}

// NewSteppingClock constructs a stepping clock reading start.
func NewSteppingClock(start time.Time) *SteppingClock {
	return &SteppingClock{now: start}
}

// Now implements Clock.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After implements Clock by advancing virtual time by d.
func (c *SteppingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	now := c.now
	listeners := append([]func(time.Time){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// AddListener registers a callback invoked each time virtual time advances.
func (c *SteppingClock) AddListener(fn func(time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}
