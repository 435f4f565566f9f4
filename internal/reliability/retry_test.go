package reliability

import (
	"testing"
	"time"
)

func TestDefaultRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	for k := 1; k <= 12; k++ {
		want := time.Duration(1<<k) * time.Second
		if want > 30*time.Second {
			want = 30 * time.Second
		}
		if got := p.Delay(k); got != want {
			t.Fatalf("Delay(%d) = %v, want %v", k, got, want)
		}
	}
}

func TestRetryPolicyCustomMultiplier(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, Multiplier: 3, MaxDelay: time.Second}
	if got := p.Delay(1); got != 300*time.Millisecond {
		t.Fatalf("Delay(1) = %v, want 300ms", got)
	}
	if got := p.Delay(3); got != time.Second {
		t.Fatalf("Delay(3) = %v, want cap 1s", got)
	}
}

func TestRetryPolicyAllows(t *testing.T) {
	unbounded := DefaultRetryPolicy()
	if !unbounded.Allows(1000) {
		t.Fatalf("unbounded policy should allow attempt 1000")
	}
	bounded := RetryPolicy{MaxAttempts: 2}
	if !bounded.Allows(2) || bounded.Allows(3) {
		t.Fatalf("bounded policy Allows() mismatch")
	}
}

func TestManualClockAdvance(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	fired := 0
	c.AfterFunc(2*time.Second, func() { fired++ })
	stopped := c.AfterFunc(time.Second, func() { fired += 10 })
	if !stopped.Stop() {
		t.Fatalf("Stop() = false, want true")
	}
	if got := c.Delays(); len(got) != 1 || got[0] != 2*time.Second {
		t.Fatalf("Delays() = %v, want [2s]", got)
	}
	c.Advance(time.Second)
	if fired != 0 {
		t.Fatalf("fired = %d before due", fired)
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if len(c.Delays()) != 0 {
		t.Fatalf("pending timers remain after firing")
	}
}
