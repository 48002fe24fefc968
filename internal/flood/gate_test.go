package flood

import (
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGate(limit int) (*Gate, *manualClock) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)}
	g := New(limit)
	g.now = clock.Now
	return g, clock
}

func TestGate_AllowsUpToLimit(t *testing.T) {
	g, _ := newTestGate(3)
	defer g.Stop()

	for i := range 3 {
		if !g.Allow("p1", "client1") {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}
	if g.Allow("p1", "client1") {
		t.Error("4th request should be blocked")
	}
}

func TestGate_SlidingWindow(t *testing.T) {
	g, clock := newTestGate(2)
	defer g.Stop()

	g.Allow("p1", "c1")
	clock.Advance(30 * time.Second)
	g.Allow("p1", "c1")

	if g.Allow("p1", "c1") {
		t.Error("Third request inside the window should be blocked")
	}

	clock.Advance(31 * time.Second)
	if !g.Allow("p1", "c1") {
		t.Error("Oldest request left the window, next should be allowed")
	}
	if g.Allow("p1", "c1") {
		t.Error("Window is full again")
	}
}

func TestGate_PerPartyPerClient(t *testing.T) {
	g, _ := newTestGate(1)
	defer g.Stop()

	tests := []struct {
		party, client string
	}{
		{"p1", "c1"},
		{"p1", "c2"},
		{"p2", "c1"},
	}
	for _, tt := range tests {
		if !g.Allow(tt.party, tt.client) {
			t.Errorf("First request for %s/%s should be allowed", tt.party, tt.client)
		}
	}
	for _, tt := range tests {
		if g.Allow(tt.party, tt.client) {
			t.Errorf("Second request for %s/%s should be blocked", tt.party, tt.client)
		}
	}
}

func TestGate_ZeroLimitDisables(t *testing.T) {
	g := New(0)
	defer g.Stop()

	for range 100 {
		if !g.Allow("p1", "c1") {
			t.Fatal("A zero limit should allow everything")
		}
	}
}

func TestGate_Cleanup(t *testing.T) {
	g, clock := newTestGate(5)
	defer g.Stop()

	g.Allow("p1", "c1")
	clock.Advance(5 * time.Minute)
	g.Allow("p1", "c2")
	clock.Advance(6 * time.Minute)

	g.performCleanup()

	stats := g.Stats()
	if stats.ActiveClients != 1 {
		t.Errorf("Expected 1 active client after cleanup, got %d", stats.ActiveClients)
	}
	if stats.LimitPerMinute != 5 || stats.WindowSeconds != 60 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestGate_Concurrent(t *testing.T) {
	g := New(50)
	defer g.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if g.Allow("p1", "c1") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("Expected exactly 50 allowed requests, got %d", allowed)
	}
}
