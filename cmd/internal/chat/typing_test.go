package chat

import (
	"reflect"
	"testing"
	"time"
)

func TestTypingExpiry(t *testing.T) {
	t.Parallel()
	tr := NewTypingTracker(6 * time.Second)

	tr.Set(1, "ava", testEpoch)
	tr.Set(2, "ben", testEpoch.Add(3*time.Second))

	got := tr.Active(testEpoch.Add(5*time.Second), 0)
	if !reflect.DeepEqual(got, []string{"ava", "ben"}) {
		t.Fatalf("active=%v", got)
	}

	// ava's entry lapses at +6s; ben's holds until +9s.
	got = tr.Active(testEpoch.Add(7*time.Second), 0)
	if !reflect.DeepEqual(got, []string{"ben"}) {
		t.Fatalf("active after expiry=%v", got)
	}
}

func TestTypingExcludesCaller(t *testing.T) {
	t.Parallel()
	tr := NewTypingTracker(6 * time.Second)

	tr.Set(1, "ava", testEpoch)
	tr.Set(2, "ben", testEpoch)

	got := tr.Active(testEpoch.Add(time.Second), 1)
	if !reflect.DeepEqual(got, []string{"ben"}) {
		t.Fatalf("active=%v want caller excluded", got)
	}
}

func TestTypingClear(t *testing.T) {
	t.Parallel()
	tr := NewTypingTracker(6 * time.Second)

	tr.Set(1, "ava", testEpoch)
	tr.Clear(1)

	if got := tr.Active(testEpoch.Add(time.Second), 0); len(got) != 0 {
		t.Fatalf("active after clear=%v", got)
	}
}

func TestTypingRateLimit(t *testing.T) {
	t.Parallel()
	tr := NewTypingTracker(6 * time.Second)

	for i := 0; i < typingRateEvents; i++ {
		if !tr.Allow(1, testEpoch.Add(time.Duration(i)*100*time.Millisecond)) {
			t.Fatalf("event %d rejected inside budget", i)
		}
	}
	if tr.Allow(1, testEpoch.Add(4*time.Second)) {
		t.Fatalf("expected limiter to reject past the budget")
	}
	// Another user has an independent budget.
	if !tr.Allow(2, testEpoch.Add(4*time.Second)) {
		t.Fatalf("limiter must be per user")
	}
	// The window slides: events age out.
	if !tr.Allow(1, testEpoch.Add(typingRateWindow+time.Second)) {
		t.Fatalf("expected limiter to admit after the window")
	}
}

func TestSortStrings(t *testing.T) {
	t.Parallel()

	s := []string{"cam", "ava", "ben"}
	sortStrings(s)
	if !reflect.DeepEqual(s, []string{"ava", "ben", "cam"}) {
		t.Fatalf("sorted=%v", s)
	}
}
