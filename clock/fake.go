package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock only moves when Advance or Set is called. AfterFunc
// callbacks run synchronously inside Advance, in deadline order, after
// the clock lock has been released, so callbacks may call Now.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{deadline: c.now.Add(d), channel: channel})
	return channel
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	w := &fakeWaiter{deadline: c.now.Add(d), callback: f}
	if d <= 0 {
		w.fired = true
		c.mu.Unlock()
		f()
		return &fakeTimer{clock: c, waiter: w}
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return &fakeTimer{clock: c, waiter: w}
}

// Sleep blocks until another goroutine advances the clock past d.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the clock forward and fires every waiter whose deadline
// has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.Set(target)
}

// Set moves the clock to t, which must not be in the past.
func (c *FakeClock) Set(t time.Time) {
	for {
		c.mu.Lock()
		if t.Before(c.now) {
			c.mu.Unlock()
			return
		}
		due := c.nextDue(t)
		if due == nil {
			c.now = t
			c.mu.Unlock()
			return
		}
		// Step to each deadline in turn so callbacks observe their own
		// fire time through Now.
		c.now = due.deadline
		due.fired = true
		c.compact()
		c.mu.Unlock()

		if due.callback != nil {
			due.callback()
		} else {
			due.channel <- due.deadline
		}
	}
}

// Pending returns the number of waiters that have not fired or stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.fired && !w.stopped {
			n++
		}
	}
	return n
}

func (c *FakeClock) nextDue(until time.Time) *fakeWaiter {
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	for _, w := range c.waiters {
		if w.fired || w.stopped {
			continue
		}
		if w.deadline.After(until) {
			return nil
		}
		return w
	}
	return nil
}

func (c *FakeClock) compact() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.fired && !w.stopped {
			live = append(live, w)
		}
	}
	c.waiters = live
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.waiter.fired || t.waiter.stopped {
		return false
	}
	t.waiter.stopped = true
	return true
}
