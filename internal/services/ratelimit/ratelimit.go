package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow counts calls per credential inside a trailing window. It
// backs the selector's precise-window mode, replacing the daily-counter
// modulo approximation.
type SlidingWindow struct {
	mu      sync.Mutex
	window  time.Duration
	calls   map[uint][]time.Time
	stopped chan struct{}
	once    sync.Once
}

// NewSlidingWindow creates a limiter over the given window and starts a
// background pruner for idle credentials.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	sw := &SlidingWindow{
		window:  window,
		calls:   make(map[uint][]time.Time),
		stopped: make(chan struct{}),
	}
	go sw.cleanup()
	return sw
}

// Allow reports whether the credential is under limit, and if so records the
// call. A non-positive limit means unlimited.
func (sw *SlidingWindow) Allow(credentialID uint, limit int64) bool {
	if limit <= 0 {
		return true
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	recent := sw.prune(credentialID, now)
	if int64(len(recent)) >= limit {
		sw.calls[credentialID] = recent
		return false
	}

	sw.calls[credentialID] = append(recent, now)
	return true
}

// Count returns the number of calls recorded inside the trailing window.
func (sw *SlidingWindow) Count(credentialID uint) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	recent := sw.prune(credentialID, time.Now())
	sw.calls[credentialID] = recent
	return len(recent)
}

// Stop ends the background pruner.
func (sw *SlidingWindow) Stop() {
	sw.once.Do(func() { close(sw.stopped) })
}

// prune drops timestamps older than the window; caller holds the lock.
func (sw *SlidingWindow) prune(credentialID uint, now time.Time) []time.Time {
	cutoff := now.Add(-sw.window)
	recent := sw.calls[credentialID][:0]
	for _, ts := range sw.calls[credentialID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	return recent
}

func (sw *SlidingWindow) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stopped:
			return
		case <-ticker.C:
			sw.mu.Lock()
			now := time.Now()
			for id := range sw.calls {
				recent := sw.prune(id, now)
				if len(recent) == 0 {
					delete(sw.calls, id)
				} else {
					sw.calls[id] = recent
				}
			}
			sw.mu.Unlock()
		}
	}
}
