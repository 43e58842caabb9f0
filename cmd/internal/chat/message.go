// Package chat contains the traderoom message synchronization core:
// the rate/dedup guard on the write path, cursor-based sync reads,
// the SSE live broadcaster, mention/reply notification fanout,
// reactions, and typing presence.
package chat

import (
	"errors"
	"time"
)

// Sentinel errors shared by Store implementations and handlers.
var (
	ErrNotFound  = errors.New("chat: not found")
	ErrForbidden = errors.New("chat: forbidden")
)

// Roles recognized by the platform. Moderators and admins may mutate
// messages they did not author.
const (
	RoleMember    = "member"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// PrivilegedRole reports whether role may edit/delete other authors' messages.
func PrivilegedRole(role string) bool {
	return role == RoleModerator || role == RoleAdmin
}

// Identity is a verified caller identity produced by the authentication
// collaborator. The chat core never resolves credentials itself.
type Identity struct {
	UserID int64
	Name   string
	Role   string
}

// Mention is one mention target as submitted by the sender, in order.
// UserID is nil when the name did not resolve to a real user; such
// entries are preserved on the message but never produce notifications.
type Mention struct {
	UserID *int64 `json:"user_id,omitempty"`
	Name   string `json:"name"`
}

// Message is the canonical persisted message representation.
//
// ID is assigned by the Store, strictly increasing and never reused; it is
// the canonical timeline order. CreatedAt is informational only.
type Message struct {
	ID          int64
	AuthorID    int64
	AuthorName  string
	AuthorRole  string
	AuthorIP    string
	Body        string
	CreatedAt   time.Time
	EditedAt    *time.Time
	DeletedAt   *time.Time
	ClientToken string
	ReplyToID   *int64
	Mentions    []Mention
}

// Deleted reports whether the message has been soft-deleted.
func (m Message) Deleted() bool { return m.DeletedAt != nil }

// Edited reports whether the message body has been edited after creation.
func (m Message) Edited() bool { return m.EditedAt != nil }

// Attachment kinds, inferred from the file extension at write time.
const (
	AttachmentImage = "image"
	AttachmentVideo = "video"
	AttachmentAudio = "audio"
	AttachmentFile  = "file"
)

// Attachment belongs to exactly one message and is immutable once created.
type Attachment struct {
	MessageID   int64  `json:"-"`
	URL         string `json:"url"`
	DisplayName string `json:"display_name"`
	MIME        string `json:"mime,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	Kind        string `json:"kind"`
}

// Notification kinds.
const (
	NotifyMention = "mention"
	NotifyReply   = "reply"
)

// Notification is one unread-tracking row. Uniqueness is
// (UserID, MessageID, Kind): a user is notified at most once per message
// per kind. ReadAt is monotonic and never unset.
type Notification struct {
	ID        int64
	UserID    int64
	MessageID int64
	Kind      string
	CreatedAt time.Time
	ReadAt    *time.Time
}

// Reaction identity is the triple (MessageID, UserID, Emoji).
type Reaction struct {
	MessageID int64
	UserID    int64
	Emoji     string
	CreatedAt time.Time
}

// DeletedMarker reports one soft deletion to out-of-sync clients.
type DeletedMarker struct {
	ID        int64     `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}
