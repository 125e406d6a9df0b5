package gatekeeper

import (
	"sync"
	"time"
)

type rateKey struct {
	principalID string
	actionType  string
}

type rateCounter struct {
	windowStart time.Time
	count       int
}

// RateWindow counts submissions per (principal, action_type) inside fixed,
// wall-clock-aligned windows. A rejected submission leaves the counter
// unchanged; the counter resets when the window rolls over.
type RateWindow struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	counts    map[rateKey]*rateCounter
	lastSweep time.Time
}

// NewRateWindow creates a rate window with the given window length and
// per-window maximum.
func NewRateWindow(window time.Duration, max int) *RateWindow {
	return &RateWindow{
		window:    window,
		max:       max,
		counts:    make(map[rateKey]*rateCounter),
		lastSweep: time.Now(),
	}
}

// Allowed reports whether one more submission fits in the current window.
// It does not consume a slot; call Increment once the submission is admitted.
func (rw *RateWindow) Allowed(principalID, actionType string) bool {
	now := time.Now()
	start := now.Truncate(rw.window)

	rw.mu.Lock()
	defer rw.mu.Unlock()

	c, ok := rw.counts[rateKey{principalID, actionType}]
	if !ok || c.windowStart.Before(start) {
		return rw.max > 0
	}
	return c.count < rw.max
}

// Increment records one admitted submission in the current window.
func (rw *RateWindow) Increment(principalID, actionType string) {
	now := time.Now()
	start := now.Truncate(rw.window)
	key := rateKey{principalID, actionType}

	rw.mu.Lock()
	defer rw.mu.Unlock()

	c, ok := rw.counts[key]
	if !ok || c.windowStart.Before(start) {
		rw.counts[key] = &rateCounter{windowStart: start, count: 1}
	} else {
		c.count++
	}
	rw.sweepLocked(now, start)
}

// sweepLocked drops counters from expired windows. Runs at most once per two
// window lengths so idle principals do not accumulate state forever.
func (rw *RateWindow) sweepLocked(now time.Time, start time.Time) {
	if now.Sub(rw.lastSweep) < 2*rw.window {
		return
	}
	rw.lastSweep = now
	for key, c := range rw.counts {
		if c.windowStart.Before(start) {
			delete(rw.counts, key)
		}
	}
}
