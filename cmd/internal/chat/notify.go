package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Notifier fans out mention/reply notifications at write time and serves
// per-user unread tracking.
type Notifier struct {
	log    *slog.Logger
	store  Store
	reader *Reader
}

// NewNotifier constructs a Notifier. reader is used to enrich unread
// listings with the same shape as poll items.
func NewNotifier(log *slog.Logger, store Store, reader *Reader) *Notifier {
	return &Notifier{log: log, store: store, reader: reader}
}

// Fanout creates notification rows for a freshly appended message.
//
// Rules:
//   - one "mention" row per mentioned user with a resolved id, excluding
//     the author
//   - one "reply" row for the reply target's author, excluding the author
//   - inserts are insert-or-ignore on (user, message, kind), so retried
//     or re-processed writes are side-effect free
//
// Fanout failures are logged and swallowed: the message is already
// durable, and a missed notification must not fail the send.
func (n *Notifier) Fanout(ctx context.Context, msg Message, now time.Time) {
	seen := make(map[int64]bool, len(msg.Mentions))
	for _, m := range msg.Mentions {
		if m.UserID == nil {
			continue // name-only mention, documented non-match
		}
		uid := *m.UserID
		if uid == msg.AuthorID || seen[uid] {
			continue
		}
		seen[uid] = true

		if _, err := n.store.InsertNotification(ctx, uid, msg.ID, NotifyMention, now); err != nil {
			n.log.Warn("chat.notify.mention.fail", "user_id", uid, "message_id", msg.ID, "err", err)
		}
	}

	if msg.ReplyToID == nil {
		return
	}
	target, err := n.store.GetMessage(ctx, *msg.ReplyToID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			n.log.Warn("chat.notify.reply.lookup.fail", "reply_to_id", *msg.ReplyToID, "err", err)
		}
		return
	}
	if target.Deleted() || target.AuthorID == msg.AuthorID {
		return
	}
	if _, err := n.store.InsertNotification(ctx, target.AuthorID, msg.ID, NotifyReply, now); err != nil {
		n.log.Warn("chat.notify.reply.fail", "user_id", target.AuthorID, "message_id", msg.ID, "err", err)
	}
}

// UnreadItem joins a notification to its enriched source message.
type UnreadItem struct {
	NotificationID int64            `json:"notification_id"`
	Kind           string           `json:"kind"`
	CreatedAt      time.Time        `json:"created_at"`
	Message        *EnrichedMessage `json:"message,omitempty"`
	MessageID      int64            `json:"message_id"`
}

// UnreadList is the notifications read-side response.
type UnreadList struct {
	UnreadCount int          `json:"unread_count"`
	Items       []UnreadItem `json:"items"`
}

// ListUnread returns up to limit unread notifications, newest first,
// with their source messages enriched like poll items. A message
// enrichment failure degrades to an item without a message body.
func (n *Notifier) ListUnread(ctx context.Context, userID int64, limit int) (UnreadList, error) {
	if limit <= 0 {
		limit = defaultUnreadLimit
	}
	if limit > maxUnreadLimit {
		limit = maxUnreadLimit
	}

	notifs, total, err := n.store.ListUnreadNotifications(ctx, userID, limit)
	if err != nil {
		return UnreadList{}, err
	}

	ids := make([]int64, 0, len(notifs))
	for _, nf := range notifs {
		ids = append(ids, nf.MessageID)
	}

	var byID map[int64]EnrichedMessage
	if msgs, err := n.store.GetMessages(ctx, ids); err != nil {
		n.log.Warn("chat.notify.unread.messages.fail", "err", err)
	} else {
		ordered := make([]Message, 0, len(msgs))
		for _, nf := range notifs {
			if m, ok := msgs[nf.MessageID]; ok {
				ordered = append(ordered, m)
			}
		}
		enriched := n.reader.Enrich(ctx, ordered)
		byID = make(map[int64]EnrichedMessage, len(enriched))
		for _, em := range enriched {
			byID[em.ID] = em
		}
	}

	items := make([]UnreadItem, 0, len(notifs))
	for _, nf := range notifs {
		item := UnreadItem{
			NotificationID: nf.ID,
			Kind:           nf.Kind,
			CreatedAt:      nf.CreatedAt,
			MessageID:      nf.MessageID,
		}
		if em, ok := byID[nf.MessageID]; ok {
			em := em
			item.Message = &em
		}
		items = append(items, item)
	}

	return UnreadList{UnreadCount: total, Items: items}, nil
}

// MarkRead marks notifications read by explicit ids and/or by message id
// upper bound, and returns the remaining unread count. Marking is
// monotonic: already-read rows are untouched.
func (n *Notifier) MarkRead(ctx context.Context, userID int64, ids []int64, uptoMessageID int64, now time.Time) (int, error) {
	return n.store.MarkNotificationsRead(ctx, userID, ids, uptoMessageID, now)
}
