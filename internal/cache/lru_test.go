package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRU[int, string](10, time.Minute, WithClock(clock.Now))
	c.Set(1, "one")
	c.Set(2, "two")

	clock.Advance(30 * time.Second)
	c.Set(3, "three")
	clock.Advance(45 * time.Second)

	if _, ok := c.Get(1); ok {
		t.Error("entry 1 should have expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
	if v, ok := c.Get(3); !ok || v != "three" {
		t.Errorf("Get(3) = %q, %v", v, ok)
	}

	st := c.Stats()
	if st.Size != 1 || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestLRUGetOrCompute(t *testing.T) {
	c := NewLRU[string, int](4, time.Hour)
	calls := 0
	compute := func() (int, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute("k", compute)
		if err != nil || v != 42 {
			t.Fatalf("GetOrCompute() = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("compute ran %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrCompute("bad", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("errors must not be cached")
	}
}

func TestLRUDelete(t *testing.T) {
	c := NewLRU[string, int](4, time.Hour)
	c.Set("a", 1)
	c.Delete("a")
	c.Delete("missing")
	if c.Size() != 0 {
		t.Errorf("Size() = %d after delete", c.Size())
	}
}

func TestManagerSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRU[string, int](10, time.Second, WithClock(clock.Now))
	c.Set("a", 1)
	c.Set("b", 2)

	m := NewManager(nil)
	m.Register("test", c)
	clock.Advance(2 * time.Second)

	if n := m.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, time.Millisecond)
	m.Start(ctx, time.Millisecond)
	m.Stop()
	m.Stop()
}
