// Package clocktest provides a manually driven application.Clock for tests.
package clocktest

import (
	"sort"
	"sync"
	"time"
)

// Clock only moves when Advance is called. Timer callbacks run synchronously inside Advance.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	timers  []*timer
	changed chan struct{}
}

type timer struct {
	id int
	at time.Time
	f  func()
}

func New(start time.Time) *Clock {
	return &Clock{now: start, changed: make(chan struct{})}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{id: c.seq, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.signal()
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.remove(t.id)
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		if len(c.timers) == 0 || c.timers[0].at.After(target) {
			break
		}
		t := c.timers[0]
		c.remove(t.id)
		c.now = t.at
		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending is the number of timers that have not fired or been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// BlockUntil waits until at least n timers are pending or timeout of real time passes.
func (c *Clock) BlockUntil(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		c.mu.Lock()
		if len(c.timers) >= n {
			c.mu.Unlock()
			return true
		}
		ch := c.changed
		c.mu.Unlock()
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
}

func (c *Clock) remove(id int) bool {
	for i, t := range c.timers {
		if t.id == id {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			c.signal()
			return true
		}
	}
	return false
}

// signal wakes BlockUntil callers. c.mu must be held.
func (c *Clock) signal() {
	close(c.changed)
	c.changed = make(chan struct{})
}
