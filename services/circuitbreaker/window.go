package circuitbreaker

import "sync"

// slidingWindow keeps the outcome of the last size calls.
type slidingWindow struct {
	mu       sync.Mutex
	outcomes []bool
	next     int
	filled   int
	failures int
}

func newSlidingWindow(size int) *slidingWindow {
	if size < 1 {
		size = 1
	}
	return &slidingWindow{outcomes: make([]bool, size)}
}

func (w *slidingWindow) record(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.filled == len(w.outcomes) {
		if w.outcomes[w.next] {
			w.failures--
		}
	} else {
		w.filled++
	}
	w.outcomes[w.next] = failed
	if failed {
		w.failures++
	}
	w.next = (w.next + 1) % len(w.outcomes)
}

func (w *slidingWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	clear(w.outcomes)
	w.next, w.filled, w.failures = 0, 0, 0
}

type windowSnapshot struct {
	buffered int
	failed   int
}

func (w *slidingWindow) snapshot() windowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return windowSnapshot{buffered: w.filled, failed: w.failures}
}

// failureRate returns the failure percentage, or -1 while fewer than minCalls outcomes are buffered.
func (s windowSnapshot) failureRate(minCalls int) float64 {
	if s.buffered == 0 || s.buffered < minCalls {
		return -1
	}
	return float64(s.failed) * 100 / float64(s.buffered)
}
