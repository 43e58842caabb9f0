package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Expected tables (schema managed externally, default schema "chat"):
//
//	messages(id bigserial pk, author_id, author_name, author_role,
//	         author_ip, body, created_at, edited_at, deleted_at,
//	         client_token unique nulls distinct, reply_to_id, mentions jsonb)
//	attachments(message_id, position, url, display_name, mime, size_bytes, kind)
//	reactions(message_id, user_id, emoji, created_at,
//	          unique(message_id, user_id, emoji))
//	notifications(id bigserial pk, user_id, message_id, kind, created_at,
//	              read_at, unique(user_id, message_id, kind))
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Appends take a transactional advisory lock on the room so that commit
//   order matches id order; all other correctness comes from the unique
//   constraints above.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "chat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		for _, r := range schema {
			if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return errors.New("chat: invalid schema identifier")
			}
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "chat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

const messageColumns = `id, author_id, author_name, author_role, author_ip,
	body, created_at, edited_at, deleted_at, coalesce(client_token, ''),
	reply_to_id, coalesce(mentions, '[]'::jsonb)`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.AuthorID, &m.AuthorName, &m.AuthorRole, &m.AuthorIP,
		&m.Body, &m.CreatedAt, &m.EditedAt, &m.DeletedAt, &m.ClientToken,
		&m.ReplyToID, &m.Mentions,
	)
	return m, err
}

func (s *PostgresStore) collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessage appends a message with idempotency by client token.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error) {
	if s == nil || s.pool == nil {
		return AppendResult{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := s.table("messages")

	// Serialize appends so commit order matches id order; the room is the
	// single shared timeline, so one lock key suffices.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "chat.room"); err != nil {
		return AppendResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	if in.ClientToken != "" {
		existing, err := scanMessage(tx.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM `+messages+` WHERE client_token = $1`,
			in.ClientToken,
		))
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return AppendResult{}, err
			}
			return AppendResult{Message: existing, Existing: true}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return AppendResult{}, err
		}
	}

	var token *string
	if in.ClientToken != "" {
		token = &in.ClientToken
	}

	mentions := in.Mentions
	if mentions == nil {
		mentions = []Mention{}
	}

	m, err := scanMessage(tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (
		     author_id, author_name, author_role, author_ip,
		     body, created_at, client_token, reply_to_id, mentions
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		   RETURNING `+messageColumns,
		in.AuthorID, in.AuthorName, in.AuthorRole, in.AuthorIP,
		in.Body, now, token, in.ReplyToID, mentions,
	))
	if err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}

	if len(in.Attachments) > 0 {
		attachments := s.table("attachments")
		for i, a := range in.Attachments {
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+attachments+` (message_id, position, url, display_name, mime, size_bytes, kind)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				m.ID, i, a.URL, a.DisplayName, a.MIME, a.SizeBytes, a.Kind,
			); err != nil {
				return AppendResult{}, fmt.Errorf("insert attachment: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Message: m, Existing: false}, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+` WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) GetMessages(ctx context.Context, ids []int64) (map[int64]Message, error) {
	if len(ids) == 0 {
		return map[int64]Message{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+`
		  WHERE id = ANY($1) AND deleted_at IS NULL`, ids,
	)
	if err != nil {
		return nil, err
	}
	msgs, err := s.collectMessages(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Message, len(msgs))
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (s *PostgresStore) ListTail(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+`
		  WHERE deleted_at IS NULL
		  ORDER BY id DESC
		  LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	msgs, err := s.collectMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

func (s *PostgresStore) ListSince(ctx context.Context, id int64, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+`
		  WHERE deleted_at IS NULL AND id > $1
		  ORDER BY id ASC
		  LIMIT $2`, id, limit,
	)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(rows)
}

func (s *PostgresStore) ListBefore(ctx context.Context, id int64, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+`
		  WHERE deleted_at IS NULL AND id < $1
		  ORDER BY id DESC
		  LIMIT $2`, id, limit,
	)
	if err != nil {
		return nil, err
	}
	msgs, err := s.collectMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func (s *PostgresStore) EditedSince(ctx context.Context, ts time.Time, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+`
		  WHERE deleted_at IS NULL AND edited_at > $1
		  ORDER BY edited_at ASC
		  LIMIT $2`, ts, limit,
	)
	if err != nil {
		return nil, err
	}
	return s.collectMessages(rows)
}

func (s *PostgresStore) DeletedSince(ctx context.Context, ts time.Time, limit int) ([]DeletedMarker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, deleted_at FROM `+s.table("messages")+`
		  WHERE deleted_at > $1
		  ORDER BY deleted_at ASC
		  LIMIT $2`, ts, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeletedMarker
	for rows.Next() {
		var d DeletedMarker
		if err := rows.Scan(&d.ID, &d.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EditMessage(ctx context.Context, id int64, body string, mentions []Mention, now time.Time) error {
	if mentions == nil {
		mentions = []Mention{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("messages")+`
		    SET body = $2, mentions = $3, edited_at = $4
		  WHERE id = $1 AND deleted_at IS NULL`,
		id, body, mentions, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id int64, now time.Time) error {
	// Idempotent: deleting an already-deleted message succeeds without
	// moving its deleted_at timestamp.
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("messages")+`
		    SET deleted_at = coalesce(deleted_at, $2)
		  WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByClientToken(ctx context.Context, token string) (Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+` WHERE client_token = $1`, token,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) CountRecentByAuthor(ctx context.Context, userID int64, since time.Time, excludeToken string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.table("messages")+`
		  WHERE author_id = $1
		    AND created_at > $2
		    AND ($3 = '' OR client_token IS DISTINCT FROM $3)`,
		userID, since, excludeToken,
	).Scan(&n)
	return n, err
}

func (s *PostgresStore) CountRecentByIP(ctx context.Context, ip string, since time.Time, excludeToken string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.table("messages")+`
		  WHERE author_ip = $1
		    AND created_at > $2
		    AND ($3 = '' OR client_token IS DISTINCT FROM $3)`,
		ip, since, excludeToken,
	).Scan(&n)
	return n, err
}

func (s *PostgresStore) HasRecentDuplicate(ctx context.Context, q DuplicateQuery) (bool, error) {
	subject := `author_id = $1`
	arg := any(q.AuthorID)
	if !q.Authenticated {
		subject = `author_ip = $1`
		arg = q.AuthorIP
	}

	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM `+s.table("messages")+`
		    WHERE `+subject+`
		      AND created_at > $2
		      AND body = $3
		      AND client_token IS DISTINCT FROM $4
		 )`,
		arg, q.Since, q.Body, q.ExcludeToken,
	).Scan(&found)
	return found, err
}

func (s *PostgresStore) Attachments(ctx context.Context, messageIDs []int64) (map[int64][]Attachment, error) {
	if len(messageIDs) == 0 {
		return map[int64][]Attachment{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, url, display_name, coalesce(mime, ''), coalesce(size_bytes, 0), kind
		   FROM `+s.table("attachments")+`
		  WHERE message_id = ANY($1)
		  ORDER BY message_id, position`, messageIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]Attachment)
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.MessageID, &a.URL, &a.DisplayName, &a.MIME, &a.SizeBytes, &a.Kind); err != nil {
			return nil, err
		}
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddReaction(ctx context.Context, messageID, userID int64, emoji string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("reactions")+` (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		messageID, userID, emoji, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table("reactions")+`
		  WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReactionCounts(ctx context.Context, messageIDs []int64) (map[int64]map[string]int, error) {
	out := make(map[int64]map[string]int, len(messageIDs))
	for _, id := range messageIDs {
		out[id] = map[string]int{}
	}
	if len(messageIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT message_id, emoji, count(*)
		   FROM `+s.table("reactions")+`
		  WHERE message_id = ANY($1)
		  GROUP BY message_id, emoji`, messageIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			emoji string
			n     int
		)
		if err := rows.Scan(&id, &emoji, &n); err != nil {
			return nil, err
		}
		if _, ok := out[id]; ok {
			out[id][emoji] = n
		}
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertNotification(ctx context.Context, userID, messageID int64, kind string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("notifications")+` (user_id, message_id, kind, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, message_id, kind) DO NOTHING`,
		userID, messageID, kind, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListUnreadNotifications(ctx context.Context, userID int64, limit int) ([]Notification, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.table("notifications")+`
		  WHERE user_id = $1 AND read_at IS NULL`, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, message_id, kind, created_at, read_at
		   FROM `+s.table("notifications")+`
		  WHERE user_id = $1 AND read_at IS NULL
		  ORDER BY id DESC
		  LIMIT $2`, userID, limit,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.MessageID, &n.Kind, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, userID int64, ids []int64, uptoMessageID int64, now time.Time) (int, error) {
	if ids == nil {
		ids = []int64{}
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("notifications")+`
		    SET read_at = $4
		  WHERE user_id = $1
		    AND read_at IS NULL
		    AND (id = ANY($2) OR ($3 > 0 AND message_id <= $3))`,
		userID, ids, uptoMessageID, now,
	); err != nil {
		return 0, err
	}

	var unread int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.table("notifications")+`
		  WHERE user_id = $1 AND read_at IS NULL`, userID,
	).Scan(&unread)
	return unread, err
}
