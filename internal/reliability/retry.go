package reliability

import (
	"sync"
	"time"
)

// RetryPolicy describes reconnect pacing. The delay before attempt k (k >= 1)
// is min(MaxDelay, BaseDelay * Multiplier^k).
type RetryPolicy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// MaxAttempts bounds reconnect attempts; 0 means unbounded.
	MaxAttempts int
}

// DefaultRetryPolicy doubles from one second up to thirty, forever.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// Delay returns the wait before reconnect attempt k.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt <= 0 {
		return p.BaseDelay
	}
	if p.Multiplier == 2 {
		return ExponentialBackoff(attempt, p.BaseDelay, p.MaxDelay)
	}
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// Allows reports whether attempt k may run under MaxAttempts.
func (p RetryPolicy) Allows(attempt int) bool {
	p = p.normalized()
	return p.MaxAttempts == 0 || attempt <= p.MaxAttempts
}

// Timer is the stoppable handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed callbacks; tests swap in a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock is the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// ManualClock fires scheduled callbacks only when advanced.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualTimer
}

type manualTimer struct {
	clock   *ManualClock
	at      time.Time
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), delay: d, f: f}
	c.pending = append(c.pending, t)
	return t
}

// Delays lists the delays of timers that are scheduled and not yet fired or stopped.
func (c *ManualClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.pending))
	for _, t := range c.pending {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}

// Advance moves time forward and runs every due callback synchronously.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	rest := c.pending[:0]
	for _, t := range c.pending {
		if t.stopped || t.fired {
			continue
		}
		if !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
			continue
		}
		rest = append(rest, t)
	}
	c.pending = rest
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
