package auth

import (
	"sync"
	"time"
)

// FailureWindow keeps recent authentication failure timestamps per
// executable path. It is safe for concurrent use.
type FailureWindow struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	failures map[string][]time.Time
}

// NewFailureWindow allows at most max failures per path within window.
func NewFailureWindow(max int, window time.Duration) *FailureWindow {
	return &FailureWindow{window: window, max: max, failures: make(map[string][]time.Time)}
}

// Limited prunes entries older than the window and reports whether path has
// reached the failure limit. Empty paths are never limited.
func (w *FailureWindow) Limited(path string, now time.Time) bool {
	if path == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.pruneLocked(path, now)
	return len(kept) >= w.max
}

// Add records a failure for path at now.
func (w *FailureWindow) Add(path string, now time.Time) {
	if path == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.pruneLocked(path, now)
	w.failures[path] = append(kept, now)
}

// Count returns the failures for path inside the window ending at now.
func (w *FailureWindow) Count(path string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pruneLocked(path, now))
}

func (w *FailureWindow) pruneLocked(path string, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	times := w.failures[path]
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	kept := times[i:]
	if len(kept) == 0 {
		delete(w.failures, path)
		return nil
	}
	w.failures[path] = kept
	return kept
}
