package chat

import (
	"sync"
	"time"
)

// slidingWindow is an in-process sliding-window event limiter.
//
// The write path derives its limits from Store counts so that every
// process observes the same windows; slidingWindow exists for signals
// that never reach the Store, such as typing presence.
type slidingWindow struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	if limit <= 0 {
		limit = typingRateEvents
	}
	if window <= 0 {
		window = typingRateWindow
	}
	return &slidingWindow{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *slidingWindow) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
