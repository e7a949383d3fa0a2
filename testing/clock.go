package testing

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/zrtp/interfaces"
)

type manualTimer struct {
	token    interfaces.TimerToken
	deadline time.Duration
	fire     func(interfaces.TimerToken)
}

// Clock is a manual interfaces.TimerService. Timers fire only when the test
// advances the clock, on the test's goroutine.
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	next   interfaces.TimerToken
	timers map[interfaces.TimerToken]*manualTimer
}

// NewClock creates a clock at time zero.
func NewClock() *Clock {
	return &Clock{timers: make(map[interfaces.TimerToken]*manualTimer)}
}

// Schedule registers fire to run once the clock has advanced by d.
func (c *Clock) Schedule(d time.Duration, fire func(interfaces.TimerToken)) interfaces.TimerToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.timers[c.next] = &manualTimer{token: c.next, deadline: c.now + d, fire: fire}
	return c.next
}

// Cancel removes a pending timer.
func (c *Clock) Cancel(token interfaces.TimerToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, token)
}

// Pending returns the number of timers that have not fired.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Now returns the time elapsed since the clock was created.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and fires every timer that becomes
// due, in deadline order, including timers scheduled by the callbacks
// themselves. It returns the number of timers fired.
func (c *Clock) Advance(d time.Duration) int {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	fired := 0
	for {
		c.mu.Lock()
		due := c.earliest(target)
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return fired
		}
		delete(c.timers, due.token)
		c.now = due.deadline
		c.mu.Unlock()

		due.fire(due.token)
		fired++
	}
}

// earliest returns the first timer due at or before target. Callers hold c.mu.
func (c *Clock) earliest(target time.Duration) *manualTimer {
	var due []*manualTimer
	for _, t := range c.timers {
		if t.deadline <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].token < due[j].token
	})
	return due[0]
}
