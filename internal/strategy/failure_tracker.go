package strategy

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys bounds the tracker; the least recently failed key is
	// dropped when it is exceeded.
	maxTrackedKeys = 4096
	// maxFailureAge resets a streak that has not failed for this long.
	maxFailureAge = 24 * time.Hour
)

// failureStreak is the consecutive failure count of one key.
type failureStreak struct {
	count int
	last  time.Time
}

// FailureTracker counts consecutive background refresh failures per key.
type FailureTracker struct {
	streaks map[string]failureStreak
	mu      sync.Mutex
}

// NewFailureTracker creates an empty tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{streaks: make(map[string]failureStreak)}
}

// Failure records a failure at now and returns the streak length.
func (t *FailureTracker) Failure(key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	streak := t.streaks[key]
	if !streak.last.IsZero() && now.Sub(streak.last) > maxFailureAge {
		streak.count = 0
	}
	streak.count++
	streak.last = now
	t.streaks[key] = streak

	if len(t.streaks) > maxTrackedKeys {
		t.evictOldest()
	}
	return streak.count
}

// Success resets the streak of key.
func (t *FailureTracker) Success(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streaks, key)
}

// Count returns the current streak of key.
func (t *FailureTracker) Count(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streaks[key].count
}

func (t *FailureTracker) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, s := range t.streaks {
		if oldestKey == "" || s.last.Before(oldest) {
			oldestKey, oldest = k, s.last
		}
	}
	delete(t.streaks, oldestKey)
}
