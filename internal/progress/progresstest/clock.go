// Package progresstest provides a manually advanced clock for driving
// progress.Scheduler users deterministically in tests.
package progresstest

import (
	"sync"
	"time"

	"checkin/internal/progress"
)

// Clock is a progress.Scheduler whose time only moves on Advance.
// Callbacks run synchronously on the goroutine calling Advance.
type Clock struct {
	mu      sync.Mutex
	now     time.Duration
	seq     uint64
	pending []*timer
}

type timer struct {
	c       *Clock
	at      time.Duration
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

// NewClock returns a clock at offset zero.
func NewClock() *Clock {
	return &Clock{}
}

// AfterFunc registers fn to run once the clock has advanced by d.
func (c *Clock) AfterFunc(d time.Duration, fn func()) progress.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{c: c, at: c.now + d, seq: c.seq, fn: fn}
	c.pending = append(c.pending, t)
	return t
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Elapsed returns how far the clock has been advanced.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns the number of live timers.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing due timers in order.
// Timers scheduled by a callback fire within the same call when due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()

		next.fn()
	}
}

// Step advances by d one interval at a time, calling observe after each.
func (c *Clock) Step(d, interval time.Duration, observe func()) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += interval {
		c.Advance(interval)
		if observe != nil {
			observe()
		}
	}
}

func (c *Clock) nextDueLocked(target time.Duration) *timer {
	live := c.pending[:0]
	var best *timer
	for _, t := range c.pending {
		if t.stopped || t.fired {
			continue
		}
		live = append(live, t)
		if t.at > target {
			continue
		}
		if best == nil || t.at < best.at || (t.at == best.at && t.seq < best.seq) {
			best = t
		}
	}
	c.pending = live
	return best
}
