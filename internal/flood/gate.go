// Package flood limits how many mutating requests a client may send to a
// party per minute.
package flood

import (
	"sync"
	"time"
)

const (
	// windowDuration is the sliding window for request counting.
	windowDuration = 60 * time.Second
	// cleanupInterval is how often idle entries are dropped.
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long a client may stay silent before its entry goes.
	idleTimeout = 10 * time.Minute
)

// Gate is a per-party, per-client sliding window rate limiter.
type Gate struct {
	limitPerMinute int
	entries        map[string]*clientEntry // key: "party:client"
	mutex          sync.Mutex
	now            func() time.Time
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

type clientEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a Gate. A limit below one disables limiting.
func New(limitPerMinute int) *Gate {
	g := &Gate{
		limitPerMinute: limitPerMinute,
		entries:        make(map[string]*clientEntry),
		now:            time.Now,
		stopCleanup:    make(chan struct{}),
	}
	go g.cleanup()
	return g
}

// Stop ends the background cleanup.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() { close(g.stopCleanup) })
}

// Allow records a request from client to party and reports whether it is
// within the limit. Rejected requests are not counted.
func (g *Gate) Allow(party, client string) bool {
	if g.limitPerMinute < 1 {
		return true
	}

	key := party + ":" + client

	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	entry, exists := g.entries[key]
	if !exists {
		entry = &clientEntry{timestamps: make([]time.Time, 0, g.limitPerMinute+1)}
		g.entries[key] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-windowDuration)
	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= g.limitPerMinute {
		return false
	}
	entry.timestamps = append(entry.timestamps, now)
	return true
}

func (g *Gate) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.performCleanup()
		case <-g.stopCleanup:
			return
		}
	}
}

func (g *Gate) performCleanup() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	cutoff := g.now().Add(-idleTimeout)
	for key, entry := range g.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(g.entries, key)
		}
	}
}

// Stats reports the gate's current load.
func (g *Gate) Stats() Stats {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return Stats{
		ActiveClients:  len(g.entries),
		LimitPerMinute: g.limitPerMinute,
		WindowSeconds:  int(windowDuration.Seconds()),
	}
}

type Stats struct {
	ActiveClients  int `json:"active_clients"`
	LimitPerMinute int `json:"limit_per_minute"`
	WindowSeconds  int `json:"window_seconds"`
}
