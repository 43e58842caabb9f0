package chat

import (
	"context"
	"testing"
	"time"
)

func TestGuardThrottlesBurst(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	g := NewGuard(testLog(), s)
	ctx := context.Background()

	sub := Subject{UserID: 1, Authenticated: true}
	now := testEpoch

	for i := 0; i < userShortLimit; i++ {
		res := g.Admit(ctx, sub, Candidate{Body: "msg", ClientToken: ""}, now)
		if res.Decision != DecisionAllow {
			t.Fatalf("send %d rejected: %v", i, res.Decision)
		}
		seedMessage(t, s, AppendInput{AuthorID: 1, Body: "msg", Now: now})
		now = now.Add(time.Second)
	}

	res := g.Admit(ctx, sub, Candidate{Body: "one more"}, now)
	if res.Decision != DecisionThrottled {
		t.Fatalf("expected throttle after %d sends, got %v", userShortLimit, res.Decision)
	}
	if res.RetryAfter != userShortWindow {
		t.Fatalf("retry-after=%v want=%v", res.RetryAfter, userShortWindow)
	}
}

func TestGuardAllowsAfterWindowPasses(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	g := NewGuard(testLog(), s)
	ctx := context.Background()

	for i := 0; i < userShortLimit; i++ {
		seedMessage(t, s, AppendInput{AuthorID: 1, Body: "burst", Now: testEpoch})
	}

	later := testEpoch.Add(userShortWindow + time.Second)
	res := g.Admit(ctx, Subject{UserID: 1, Authenticated: true}, Candidate{Body: "fresh"}, later)
	if res.Decision != DecisionAllow {
		t.Fatalf("expected allow after window, got %v", res.Decision)
	}
}

func TestGuardThrottlesByIP(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	g := NewGuard(testLog(), s)
	ctx := context.Background()

	// Distinct authors behind one IP still share the IP budget.
	for i := 0; i < ipShortLimit; i++ {
		seedMessage(t, s, AppendInput{AuthorID: int64(100 + i), AuthorIP: "203.0.113.9", Body: "hi", Now: testEpoch})
	}

	res := g.Admit(ctx, Subject{UserID: 999, IP: "203.0.113.9", Authenticated: true}, Candidate{Body: "hello"}, testEpoch.Add(time.Second))
	if res.Decision != DecisionThrottled {
		t.Fatalf("expected IP throttle, got %v", res.Decision)
	}
	if res.RetryAfter != ipShortWindow {
		t.Fatalf("retry-after=%v want=%v", res.RetryAfter, ipShortWindow)
	}
}

func TestGuardRejectsRecentDuplicateBody(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	g := NewGuard(testLog(), s)
	ctx := context.Background()

	seedMessage(t, s, AppendInput{AuthorID: 1, Body: "same words", ClientToken: "orig-token-11", Now: testEpoch})

	res := g.Admit(ctx, Subject{UserID: 1, Authenticated: true}, Candidate{Body: "same words", ClientToken: "retry-token-22"}, testEpoch.Add(5*time.Second))
	if res.Decision != DecisionDuplicate {
		t.Fatalf("expected duplicate, got %v", res.Decision)
	}

	// A different author is free to say the same thing.
	res = g.Admit(ctx, Subject{UserID: 2, Authenticated: true}, Candidate{Body: "same words", ClientToken: "other-token-33"}, testEpoch.Add(5*time.Second))
	if res.Decision != DecisionAllow {
		t.Fatalf("other author duplicate decision=%v want=allow", res.Decision)
	}

	// Outside the window the text is allowed again.
	res = g.Admit(ctx, Subject{UserID: 1, Authenticated: true}, Candidate{Body: "same words", ClientToken: "late-token-44"}, testEpoch.Add(duplicateWindow+time.Second))
	if res.Decision != DecisionAllow {
		t.Fatalf("post-window duplicate decision=%v want=allow", res.Decision)
	}
}

func TestGuardShortCircuitsIdempotentRetry(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	g := NewGuard(testLog(), s)
	ctx := context.Background()

	orig := seedMessage(t, s, AppendInput{AuthorID: 1, Body: "send once", ClientToken: "retry-safe-99", Now: testEpoch})

	// The retry carries the same token and body. Neither the rate count,
	// the duplicate check, nor anything else may reject it; the original
	// row comes back.
	res := g.Admit(ctx, Subject{UserID: 1, Authenticated: true}, Candidate{Body: "send once", ClientToken: "retry-safe-99"}, testEpoch.Add(2*time.Second))
	if res.Decision != DecisionAllow {
		t.Fatalf("retry decision=%v want=allow", res.Decision)
	}
	if res.Existing == nil || res.Existing.ID != orig.ID {
		t.Fatalf("retry existing=%+v want id=%d", res.Existing, orig.ID)
	}
}

func TestGuardRetryNotThrottledAtLimit(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	g := NewGuard(testLog(), s)
	ctx := context.Background()

	// The user is at the short-window limit, and one of those sends is
	// the message being retried. The exclusion keeps the retry under the
	// limit so the client can complete its original send.
	seedMessage(t, s, AppendInput{AuthorID: 1, Body: "retried one", ClientToken: "stuck-token-7", Now: testEpoch})
	for i := 1; i < userShortLimit; i++ {
		seedMessage(t, s, AppendInput{AuthorID: 1, Body: "other", Now: testEpoch})
	}

	res := g.Admit(ctx, Subject{UserID: 1, Authenticated: true}, Candidate{Body: "retried one", ClientToken: "stuck-token-7"}, testEpoch.Add(time.Second))
	if res.Decision != DecisionAllow || res.Existing == nil {
		t.Fatalf("retry at limit: decision=%v existing=%v", res.Decision, res.Existing)
	}
}
