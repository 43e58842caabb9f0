package chat

import (
	"sync"
	"time"
)

// TypingTracker is a transient presence set with a short TTL.
//
// It is deliberately process-local: typing hints are cosmetic, expire in
// seconds, and are allowed to diverge between processes under a
// stateless deployment.
type TypingTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	users    map[int64]typingEntry
	limiters map[int64]*slidingWindow
}

type typingEntry struct {
	name    string
	expires time.Time
}

// NewTypingTracker constructs a tracker with ttl (default 6s when <= 0).
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = typingTTL
	}
	return &TypingTracker{
		ttl:      ttl,
		users:    make(map[int64]typingEntry),
		limiters: make(map[int64]*slidingWindow),
	}
}

// Allow rate-limits typing signals per user.
func (t *TypingTracker) Allow(userID int64, now time.Time) bool {
	t.mu.Lock()
	rl := t.limiters[userID]
	if rl == nil {
		rl = newSlidingWindow(typingRateEvents, typingRateWindow)
		t.limiters[userID] = rl
	}
	t.mu.Unlock()
	return rl.Allow(now)
}

// Set marks a user as typing until now+ttl.
func (t *TypingTracker) Set(userID int64, name string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[userID] = typingEntry{name: name, expires: now.Add(t.ttl)}
}

// Clear removes a user immediately (stop=true).
func (t *TypingTracker) Clear(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}

// Active returns the names of users typing at "now", excluding
// excludeUserID (a client never sees itself typing). Expired entries are
// reaped on the way through.
func (t *TypingTracker) Active(now time.Time, excludeUserID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var names []string
	for id, e := range t.users {
		if !e.expires.After(now) {
			delete(t.users, id)
			continue
		}
		if id == excludeUserID {
			continue
		}
		names = append(names, e.name)
	}
	sortStrings(names)
	return names
}

// Insertion sort keeps output deterministic without importing sort for a
// list that is nearly always tiny.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
