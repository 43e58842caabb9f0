package chat

import (
	"context"
	"time"
)

// AppendInput describes a message append request.
//
// ClientToken must be non-empty by the time it reaches the Store; the
// handler assigns one when the client omits it.
type AppendInput struct {
	AuthorID    int64
	AuthorName  string
	AuthorRole  string
	AuthorIP    string
	Body        string
	ClientToken string
	ReplyToID   *int64
	Mentions    []Mention
	Attachments []Attachment
	Now         time.Time
}

// AppendResult is the append operation result. Existing is true when the
// client token matched an already-persisted row and no insert happened.
type AppendResult struct {
	Message  Message
	Existing bool
}

// DuplicateQuery asks whether an identical body was recently sent by the
// same subject under a different client token.
type DuplicateQuery struct {
	AuthorID      int64
	AuthorIP      string
	Authenticated bool
	Body          string
	Since         time.Time
	ExcludeToken  string
}

// Store persists and queries the message log and its side tables.
//
// Requirements:
//   - IDs are strictly increasing and never reused.
//   - AppendMessage is idempotent per ClientToken (unique when present).
//   - Soft-deleted messages are excluded from normal reads but reported
//     by DeletedSince.
//   - List* results are ordered by id ASC.
type Store interface {
	AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error)

	// GetMessage returns the row regardless of deletion state; callers
	// decide whether a soft-deleted row is visible for their purpose.
	GetMessage(ctx context.Context, id int64) (Message, error)
	// GetMessages batch-resolves ids; missing or deleted ids are absent
	// from the result map.
	GetMessages(ctx context.Context, ids []int64) (map[int64]Message, error)

	ListTail(ctx context.Context, limit int) ([]Message, error)
	ListSince(ctx context.Context, id int64, limit int) ([]Message, error)
	ListBefore(ctx context.Context, id int64, limit int) ([]Message, error)

	EditedSince(ctx context.Context, ts time.Time, limit int) ([]Message, error)
	DeletedSince(ctx context.Context, ts time.Time, limit int) ([]DeletedMarker, error)

	EditMessage(ctx context.Context, id int64, body string, mentions []Mention, now time.Time) error
	DeleteMessage(ctx context.Context, id int64, now time.Time) error

	// FindByClientToken returns ErrNotFound when the token is unknown.
	FindByClientToken(ctx context.Context, token string) (Message, error)

	// Window counts for the rate guard. Rows carrying excludeToken are not
	// counted, so a client retrying its own send never throttles itself.
	// Soft-deleted rows still count: deleting is not a way around limits.
	CountRecentByAuthor(ctx context.Context, userID int64, since time.Time, excludeToken string) (int, error)
	CountRecentByIP(ctx context.Context, ip string, since time.Time, excludeToken string) (int, error)
	HasRecentDuplicate(ctx context.Context, q DuplicateQuery) (bool, error)

	Attachments(ctx context.Context, messageIDs []int64) (map[int64][]Attachment, error)

	// AddReaction / RemoveReaction report whether state changed.
	AddReaction(ctx context.Context, messageID, userID int64, emoji string, now time.Time) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	ReactionCounts(ctx context.Context, messageIDs []int64) (map[int64]map[string]int, error)

	// InsertNotification is insert-or-ignore on (userID, messageID, kind).
	InsertNotification(ctx context.Context, userID, messageID int64, kind string, now time.Time) (bool, error)
	ListUnreadNotifications(ctx context.Context, userID int64, limit int) ([]Notification, int, error)
	// MarkNotificationsRead marks by explicit ids and/or by message id
	// upper bound, then returns the remaining unread count.
	MarkNotificationsRead(ctx context.Context, userID int64, ids []int64, uptoMessageID int64, now time.Time) (int, error)

	Close() error
}
