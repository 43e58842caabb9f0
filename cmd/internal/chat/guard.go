package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Decision is the Guard's verdict for one candidate send.
type Decision uint8

const (
	// DecisionAllow admits the send. When Existing is set the write must
	// be short-circuited and the existing message echoed instead.
	DecisionAllow Decision = iota
	// DecisionThrottled rejects with a retry-after hint.
	DecisionThrottled
	// DecisionDuplicate rejects identical recent content. Not a retry
	// signal: the client should treat it as "already sent".
	DecisionDuplicate
)

// Subject identifies who is sending for rate-limit purposes.
type Subject struct {
	UserID        int64
	IP            string
	Authenticated bool
}

// Candidate is the would-be message as seen by the Guard.
type Candidate struct {
	Body        string
	ClientToken string
}

// AdmitResult carries the Guard's verdict.
type AdmitResult struct {
	Decision   Decision
	RetryAfter time.Duration
	// Existing is the already-persisted message matching the candidate's
	// client token, when the send is a retry.
	Existing *Message
}

// Guard enforces sliding-window rate limits, duplicate-content
// suppression, and idempotent-insert short-circuiting on the write path.
//
// Failure policy: a transient store error during a counting query fails
// OPEN (logged, treated as within limits) so a store hiccup never blocks
// chat. Only the append itself may surface a server error.
type Guard struct {
	log   *slog.Logger
	store Store

	userShortWindow time.Duration
	userShortLimit  int
	userLongWindow  time.Duration
	userLongLimit   int

	ipShortWindow time.Duration
	ipShortLimit  int
	ipLongWindow  time.Duration
	ipLongLimit   int

	duplicateWindow time.Duration
}

// NewGuard constructs a Guard with the default windows.
func NewGuard(log *slog.Logger, store Store) *Guard {
	return &Guard{
		log:   log,
		store: store,

		userShortWindow: userShortWindow,
		userShortLimit:  userShortLimit,
		userLongWindow:  userLongWindow,
		userLongLimit:   userLongLimit,

		ipShortWindow: ipShortWindow,
		ipShortLimit:  ipShortLimit,
		ipLongWindow:  ipLongWindow,
		ipLongLimit:   ipLongLimit,

		duplicateWindow: duplicateWindow,
	}
}

type windowCheck struct {
	window time.Duration
	limit  int
	count  func(ctx context.Context, since time.Time) (int, error)
}

// Admit runs the checks in order; the first failure short-circuits.
func (g *Guard) Admit(ctx context.Context, sub Subject, cand Candidate, now time.Time) AdmitResult {
	checks := []windowCheck{}

	if sub.Authenticated {
		checks = append(checks,
			windowCheck{g.userShortWindow, g.userShortLimit, func(ctx context.Context, since time.Time) (int, error) {
				return g.store.CountRecentByAuthor(ctx, sub.UserID, since, cand.ClientToken)
			}},
			windowCheck{g.userLongWindow, g.userLongLimit, func(ctx context.Context, since time.Time) (int, error) {
				return g.store.CountRecentByAuthor(ctx, sub.UserID, since, cand.ClientToken)
			}},
		)
	}
	if sub.IP != "" {
		checks = append(checks,
			windowCheck{g.ipShortWindow, g.ipShortLimit, func(ctx context.Context, since time.Time) (int, error) {
				return g.store.CountRecentByIP(ctx, sub.IP, since, cand.ClientToken)
			}},
			windowCheck{g.ipLongWindow, g.ipLongLimit, func(ctx context.Context, since time.Time) (int, error) {
				return g.store.CountRecentByIP(ctx, sub.IP, since, cand.ClientToken)
			}},
		)
	}

	for _, c := range checks {
		n, err := c.count(ctx, now.Add(-c.window))
		if err != nil {
			g.log.Warn("chat.guard.count.fail", "err", err)
			continue // fail open
		}
		if n >= c.limit {
			return AdmitResult{Decision: DecisionThrottled, RetryAfter: c.window}
		}
	}

	dup, err := g.store.HasRecentDuplicate(ctx, DuplicateQuery{
		AuthorID:      sub.UserID,
		AuthorIP:      sub.IP,
		Authenticated: sub.Authenticated,
		Body:          cand.Body,
		Since:         now.Add(-g.duplicateWindow),
		ExcludeToken:  cand.ClientToken,
	})
	if err != nil {
		g.log.Warn("chat.guard.duplicate.fail", "err", err)
	} else if dup {
		return AdmitResult{Decision: DecisionDuplicate}
	}

	if cand.ClientToken != "" {
		existing, err := g.store.FindByClientToken(ctx, cand.ClientToken)
		switch {
		case err == nil:
			// Retry of an already-applied send: no insert, no fanout,
			// no rate consumption.
			return AdmitResult{Decision: DecisionAllow, Existing: &existing}
		case !errors.Is(err, ErrNotFound):
			g.log.Warn("chat.guard.token.fail", "err", err)
		}
	}

	return AdmitResult{Decision: DecisionAllow}
}
