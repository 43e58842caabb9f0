package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Reaction emoji length bound (runes). Covers multi-codepoint emoji with
// skin-tone or ZWJ modifiers without admitting arbitrary strings.
const maxEmojiRunes = 8

// validEmoji rejects obviously-not-an-emoji payloads. It does not try to
// enumerate Unicode emoji; the composite unique constraint makes any
// accepted string harmless.
func validEmoji(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	if utf8.RuneCountInString(s) > maxEmojiRunes {
		return false
	}
	return !strings.ContainsAny(s, " \t\n\r")
}

// Reactions implements toggle-style per-user-per-emoji reactions with
// bulk count retrieval.
//
// Add and Remove are separate idempotent operations rather than one
// flip-flop call, so a retried request never toggles twice.
type Reactions struct {
	store Store
}

// NewReactions constructs the aggregator.
func NewReactions(store Store) *Reactions {
	return &Reactions{store: store}
}

// Add records (messageID, userID, emoji). It reports changed=false when
// the reaction already existed. Reacting to a deleted or unknown message
// is ErrNotFound.
func (r *Reactions) Add(ctx context.Context, messageID, userID int64, emoji string, now time.Time) (bool, error) {
	if !validEmoji(emoji) {
		return false, errors.New("chat: invalid emoji")
	}
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg.Deleted() {
		return false, ErrNotFound
	}
	return r.store.AddReaction(ctx, messageID, userID, emoji, now)
}

// Remove deletes (messageID, userID, emoji); removing an absent reaction
// is a no-op. Reactions on deleted messages are retained but not
// surfaced, so removal does not require the message to be live.
func (r *Reactions) Remove(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	if !validEmoji(emoji) {
		return false, errors.New("chat: invalid emoji")
	}
	return r.store.RemoveReaction(ctx, messageID, userID, emoji)
}

// BulkCounts returns per-emoji counts for every requested id. Every id
// gets an entry, zero-filled when it has no reactions, so callers never
// special-case "missing".
func (r *Reactions) BulkCounts(ctx context.Context, messageIDs []int64) (map[int64]map[string]int, error) {
	return r.store.ReactionCounts(ctx, messageIDs)
}
