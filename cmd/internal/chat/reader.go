package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"traderoom/cmd/internal/preview"
)

// PreviewSource is the cached-only view of the preview layer used by
// reads. Reads never trigger outbound fetches.
type PreviewSource interface {
	Lookup(url string) *preview.Preview
}

// ReplySnapshot is a point-in-time view of a reply target. It is built
// at read time and may be absent when the target was deleted; clients
// must tolerate a dangling reply_to id.
type ReplySnapshot struct {
	ID         int64  `json:"id"`
	AuthorID   int64  `json:"author_id"`
	AuthorName string `json:"author_name"`
	Excerpt    string `json:"excerpt"`
}

const replyExcerptChars = 120

// EnrichedMessage is one message as served to clients: the stored row
// plus attachments, reaction counts, reply snapshot, and cached preview.
type EnrichedMessage struct {
	ID          int64            `json:"id"`
	AuthorID    int64            `json:"author_id"`
	AuthorName  string           `json:"author_name"`
	AuthorRole  string           `json:"author_role"`
	Body        string           `json:"body"`
	CreatedAt   time.Time        `json:"created_at"`
	Edited      bool             `json:"edited"`
	EditedAt    *time.Time       `json:"edited_at,omitempty"`
	ReplyToID   *int64           `json:"reply_to_id,omitempty"`
	ReplyTo     *ReplySnapshot   `json:"reply_to,omitempty"`
	Mentions    []Mention        `json:"mentions,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	Reactions   map[string]int   `json:"reactions,omitempty"`
	LinkPreview *preview.Preview `json:"link_preview,omitempty"`
}

// FetchInput selects exactly one cursor shape; when none is set the
// fetch is a tail read. Delta timestamps are independent of the cursor.
type FetchInput struct {
	SinceID  *int64
	BeforeID *int64
	AroundID *int64
	Window   int
	Limit    int

	EditedSince  *time.Time
	DeletedSince *time.Time

	// CallerID is excluded from the typing list.
	CallerID int64
}

// FetchResult is the poll response body.
type FetchResult struct {
	Items           []EnrichedMessage `json:"items"`
	TypingUsers     []string          `json:"typing_users"`
	EditedMessages  []EnrichedMessage `json:"edited_messages,omitempty"`
	DeletedMessages []DeletedMarker   `json:"deleted_messages,omitempty"`
}

// Reader serves the cursor query shapes and delta queries against the
// Store, enriching every returned message with batch point lookups.
type Reader struct {
	log      *slog.Logger
	store    Store
	typing   *TypingTracker
	previews PreviewSource
}

// NewReader constructs a Reader. previews may be nil (no preview
// enrichment); typing may be nil (no typing hints).
func NewReader(log *slog.Logger, store Store, typing *TypingTracker, previews PreviewSource) *Reader {
	return &Reader{log: log, store: store, typing: typing, previews: previews}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultFetchLimit
	}
	if limit > maxFetchLimit {
		return maxFetchLimit
	}
	return limit
}

// Fetch runs one poll-shaped read. A failure of the core id-range query
// is fatal; enrichment and delta failures degrade (fields omitted).
func (r *Reader) Fetch(ctx context.Context, in FetchInput) (FetchResult, error) {
	limit := clampLimit(in.Limit)

	var (
		msgs []Message
		err  error
	)
	switch {
	case in.AroundID != nil:
		msgs, err = r.around(ctx, *in.AroundID, in.Window)
	case in.SinceID != nil:
		msgs, err = r.store.ListSince(ctx, *in.SinceID, limit)
	case in.BeforeID != nil:
		msgs, err = r.store.ListBefore(ctx, *in.BeforeID, limit)
	default:
		msgs, err = r.store.ListTail(ctx, limit)
	}
	if err != nil {
		return FetchResult{}, err
	}

	out := FetchResult{
		Items:       r.Enrich(ctx, msgs),
		TypingUsers: []string{},
	}
	if r.typing != nil {
		out.TypingUsers = r.typing.Active(time.Now().UTC(), in.CallerID)
	}

	if in.EditedSince != nil {
		edited, err := r.store.EditedSince(ctx, *in.EditedSince, deltaLimit)
		if err != nil {
			r.log.Warn("chat.fetch.edited.fail", "err", err)
		} else {
			out.EditedMessages = r.Enrich(ctx, edited)
		}
	}
	if in.DeletedSince != nil {
		deleted, err := r.store.DeletedSince(ctx, *in.DeletedSince, deltaLimit)
		if err != nil {
			r.log.Warn("chat.fetch.deleted.fail", "err", err)
		} else {
			out.DeletedMessages = deleted
		}
	}

	return out, nil
}

// around returns up to window messages strictly before id, the message
// at id itself (if present and live), and up to window after, ascending.
func (r *Reader) around(ctx context.Context, id int64, window int) ([]Message, error) {
	if window <= 0 {
		window = defaultAroundWindow
	}
	if window > maxFetchLimit/2 {
		window = maxFetchLimit / 2
	}

	before, err := r.store.ListBefore(ctx, id, window)
	if err != nil {
		return nil, err
	}

	out := before
	anchor, err := r.store.GetMessage(ctx, id)
	switch {
	case err == nil:
		if !anchor.Deleted() {
			out = append(out, anchor)
		}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	after, err := r.store.ListSince(ctx, id, window)
	if err != nil {
		return nil, err
	}
	return append(out, after...), nil
}

// Enrich fans out the batch point lookups for a result set. Keyed by the
// batch of ids, never per-row round trips. Any lookup failure logs and
// omits that field from the affected messages.
func (r *Reader) Enrich(ctx context.Context, msgs []Message) []EnrichedMessage {
	out := make([]EnrichedMessage, 0, len(msgs))
	if len(msgs) == 0 {
		return out
	}

	ids := make([]int64, 0, len(msgs))
	var replyIDs []int64
	for _, m := range msgs {
		ids = append(ids, m.ID)
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	atts, err := r.store.Attachments(ctx, ids)
	if err != nil {
		r.log.Warn("chat.enrich.attachments.fail", "err", err)
		atts = nil
	}

	counts, err := r.store.ReactionCounts(ctx, ids)
	if err != nil {
		r.log.Warn("chat.enrich.reactions.fail", "err", err)
		counts = nil
	}

	var replies map[int64]Message
	if len(replyIDs) > 0 {
		replies, err = r.store.GetMessages(ctx, replyIDs)
		if err != nil {
			r.log.Warn("chat.enrich.replies.fail", "err", err)
			replies = nil
		}
	}

	for _, m := range msgs {
		em := EnrichedMessage{
			ID:         m.ID,
			AuthorID:   m.AuthorID,
			AuthorName: m.AuthorName,
			AuthorRole: m.AuthorRole,
			Body:       m.Body,
			CreatedAt:  m.CreatedAt,
			Edited:     m.Edited(),
			EditedAt:   m.EditedAt,
			ReplyToID:  m.ReplyToID,
			Mentions:   m.Mentions,
		}
		if atts != nil {
			em.Attachments = atts[m.ID]
		}
		if counts != nil {
			if c, ok := counts[m.ID]; ok && len(c) > 0 {
				em.Reactions = c
			}
		}
		if m.ReplyToID != nil && replies != nil {
			if target, ok := replies[*m.ReplyToID]; ok {
				em.ReplyTo = &ReplySnapshot{
					ID:         target.ID,
					AuthorID:   target.AuthorID,
					AuthorName: target.AuthorName,
					Excerpt:    excerpt(target.Body, replyExcerptChars),
				}
			}
		}
		if r.previews != nil {
			if u := preview.FirstURL(m.Body); u != "" {
				em.LinkPreview = r.previews.Lookup(u)
			}
		}
		out = append(out, em)
	}
	return out
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
