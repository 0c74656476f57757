package timeutil

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	if c.Since(start) < 0 {
		t.Error("Since should not be negative")
	}
	if start.IsZero() {
		t.Error("Now should not be zero")
	}
}

func TestMockClock(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Errorf("Now() = %v, want %v", c.Now(), base)
	}

	c.Advance(1500 * time.Millisecond)
	if got := c.Since(base); got != 1500*time.Millisecond {
		t.Errorf("Since() = %v, want 1.5s", got)
	}

	later := base.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", c.Now(), later)
	}
}

func TestMockClock_ConcurrentAdvance(t *testing.T) {
	base := time.Unix(0, 0)
	c := NewMockClock(base)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
	}
	wg.Wait()

	if got := c.Since(base); got != 10*time.Second {
		t.Errorf("Since() = %v, want 10s", got)
	}
}
