package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is the Store used when no database is configured (dev,
// CI smoke runs) and by unit tests.
//
// It mirrors the Postgres implementation's semantics:
//   - strictly increasing ids
//   - idempotent append per client token
//   - soft edit/delete
type InMemoryStore struct {
	mu sync.Mutex

	nextID     int64
	msgs       []Message // ordered by ID
	byToken    map[string]int64
	atts       map[int64][]Attachment
	reactions  map[reactionKey]time.Time
	notifs     []Notification
	nextNotify int64
}

type reactionKey struct {
	messageID int64
	userID    int64
	emoji     string
}

// NewInMemoryStore constructs an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byToken:   make(map[string]int64),
		atts:      make(map[int64][]Attachment),
		reactions: make(map[reactionKey]time.Time),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ClientToken != "" {
		if id, ok := s.byToken[in.ClientToken]; ok {
			if m, ok := s.findLocked(id); ok {
				return AppendResult{Message: m, Existing: true}, nil
			}
		}
	}

	s.nextID++
	m := Message{
		ID:          s.nextID,
		AuthorID:    in.AuthorID,
		AuthorName:  in.AuthorName,
		AuthorRole:  in.AuthorRole,
		AuthorIP:    in.AuthorIP,
		Body:        in.Body,
		CreatedAt:   now,
		ClientToken: in.ClientToken,
		ReplyToID:   in.ReplyToID,
		Mentions:    append([]Mention(nil), in.Mentions...),
	}
	s.msgs = append(s.msgs, m)
	if in.ClientToken != "" {
		s.byToken[in.ClientToken] = m.ID
	}

	for _, a := range in.Attachments {
		a.MessageID = m.ID
		s.atts[m.ID] = append(s.atts[m.ID], a)
	}

	return AppendResult{Message: m, Existing: false}, nil
}

func (s *InMemoryStore) findLocked(id int64) (Message, bool) {
	i := sort.Search(len(s.msgs), func(i int) bool { return s.msgs[i].ID >= id })
	if i < len(s.msgs) && s.msgs[i].ID == id {
		return s.msgs[i], true
	}
	return Message{}, false
}

func (s *InMemoryStore) GetMessage(ctx context.Context, id int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.findLocked(id); ok {
		return m, nil
	}
	return Message{}, ErrNotFound
}

func (s *InMemoryStore) GetMessages(ctx context.Context, ids []int64) (map[int64]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]Message, len(ids))
	for _, id := range ids {
		if m, ok := s.findLocked(id); ok && !m.Deleted() {
			out[id] = m
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListTail(ctx context.Context, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.liveLocked()
	if len(live) > limit {
		live = live[len(live)-limit:]
	}
	return append([]Message(nil), live...), nil
}

func (s *InMemoryStore) ListSince(ctx context.Context, id int64, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, limit)
	for _, m := range s.liveLocked() {
		if m.ID <= id {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListBefore(ctx context.Context, id int64, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.liveLocked()
	end := sort.Search(len(live), func(i int) bool { return live[i].ID >= id })
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), live[start:end]...), nil
}

// liveLocked returns non-deleted messages ordered by id ASC.
func (s *InMemoryStore) liveLocked() []Message {
	out := make([]Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		if !m.Deleted() {
			out = append(out, m)
		}
	}
	return out
}

func (s *InMemoryStore) EditedSince(ctx context.Context, ts time.Time, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, limit)
	for _, m := range s.msgs {
		if m.Deleted() || m.EditedAt == nil || !m.EditedAt.After(ts) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EditedAt.Before(*out[j].EditedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) DeletedSince(ctx context.Context, ts time.Time, limit int) ([]DeletedMarker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeletedMarker, 0, limit)
	for _, m := range s.msgs {
		if m.DeletedAt == nil || !m.DeletedAt.After(ts) {
			continue
		}
		out = append(out, DeletedMarker{ID: m.ID, DeletedAt: *m.DeletedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(out[j].DeletedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) EditMessage(ctx context.Context, id int64, body string, mentions []Mention, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.msgs), func(i int) bool { return s.msgs[i].ID >= id })
	if i >= len(s.msgs) || s.msgs[i].ID != id || s.msgs[i].Deleted() {
		return ErrNotFound
	}
	t := now
	s.msgs[i].Body = body
	s.msgs[i].Mentions = append([]Mention(nil), mentions...)
	s.msgs[i].EditedAt = &t
	return nil
}

func (s *InMemoryStore) DeleteMessage(ctx context.Context, id int64, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.msgs), func(i int) bool { return s.msgs[i].ID >= id })
	if i >= len(s.msgs) || s.msgs[i].ID != id {
		return ErrNotFound
	}
	if s.msgs[i].Deleted() {
		return nil
	}
	t := now
	s.msgs[i].DeletedAt = &t
	return nil
}

func (s *InMemoryStore) FindByClientToken(ctx context.Context, token string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byToken[token]; ok {
		if m, ok := s.findLocked(id); ok {
			return m, nil
		}
	}
	return Message{}, ErrNotFound
}

func (s *InMemoryStore) CountRecentByAuthor(ctx context.Context, userID int64, since time.Time, excludeToken string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.msgs {
		if m.AuthorID == userID && m.CreatedAt.After(since) && !sameToken(m.ClientToken, excludeToken) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountRecentByIP(ctx context.Context, ip string, since time.Time, excludeToken string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.msgs {
		if m.AuthorIP == ip && m.CreatedAt.After(since) && !sameToken(m.ClientToken, excludeToken) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) HasRecentDuplicate(ctx context.Context, q DuplicateQuery) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.msgs {
		if !m.CreatedAt.After(q.Since) || m.Body != q.Body {
			continue
		}
		if q.Authenticated {
			if m.AuthorID != q.AuthorID {
				continue
			}
		} else if m.AuthorIP != q.AuthorIP {
			continue
		}
		if sameToken(m.ClientToken, q.ExcludeToken) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func sameToken(a, b string) bool {
	return a != "" && b != "" && strings.EqualFold(a, b)
}

func (s *InMemoryStore) Attachments(ctx context.Context, messageIDs []int64) (map[int64][]Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64][]Attachment, len(messageIDs))
	for _, id := range messageIDs {
		if as, ok := s.atts[id]; ok {
			out[id] = append([]Attachment(nil), as...)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddReaction(ctx context.Context, messageID, userID int64, emoji string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := reactionKey{messageID: messageID, userID: userID, emoji: emoji}
	if _, ok := s.reactions[k]; ok {
		return false, nil
	}
	s.reactions[k] = now
	return true, nil
}

func (s *InMemoryStore) RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := reactionKey{messageID: messageID, userID: userID, emoji: emoji}
	if _, ok := s.reactions[k]; !ok {
		return false, nil
	}
	delete(s.reactions, k)
	return true, nil
}

func (s *InMemoryStore) ReactionCounts(ctx context.Context, messageIDs []int64) (map[int64]map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[int64]bool, len(messageIDs))
	out := make(map[int64]map[string]int, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
		out[id] = map[string]int{}
	}
	for k := range s.reactions {
		if want[k.messageID] {
			out[k.messageID][k.emoji]++
		}
	}
	return out, nil
}

func (s *InMemoryStore) InsertNotification(ctx context.Context, userID, messageID int64, kind string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifs {
		if n.UserID == userID && n.MessageID == messageID && n.Kind == kind {
			return false, nil
		}
	}
	s.nextNotify++
	s.notifs = append(s.notifs, Notification{
		ID:        s.nextNotify,
		UserID:    userID,
		MessageID: messageID,
		Kind:      kind,
		CreatedAt: now,
	})
	return true, nil
}

func (s *InMemoryStore) ListUnreadNotifications(ctx context.Context, userID int64, limit int) ([]Notification, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	out := make([]Notification, 0, limit)
	// Newest first, like an inbox.
	for i := len(s.notifs) - 1; i >= 0; i-- {
		n := s.notifs[i]
		if n.UserID != userID || n.ReadAt != nil {
			continue
		}
		total++
		if len(out) < limit {
			out = append(out, n)
		}
	}
	return out, total, nil
}

func (s *InMemoryStore) MarkNotificationsRead(ctx context.Context, userID int64, ids []int64, uptoMessageID int64, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[int64]bool, len(ids))
	for _, id := range ids {
		byID[id] = true
	}

	unread := 0
	for i := range s.notifs {
		n := &s.notifs[i]
		if n.UserID != userID {
			continue
		}
		if n.ReadAt == nil && (byID[n.ID] || (uptoMessageID > 0 && n.MessageID <= uptoMessageID)) {
			t := now
			n.ReadAt = &t
		}
		if n.ReadAt == nil {
			unread++
		}
	}
	return unread, nil
}
