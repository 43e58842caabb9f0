package chat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"traderoom/cmd/internal/metrics"
	"traderoom/cmd/internal/preview"
)

// Authenticator is the external identity collaborator: it resolves the
// session behind a request into a verified identity and checks the
// per-session anti-forgery token on mutating requests.
type Authenticator interface {
	Identify(r *http.Request) (Identity, bool)
	VerifyCSRF(r *http.Request, id Identity) bool
}

const maxRequestBytes = 64 << 10

// Handler is the HTTP surface of the chat core.
type Handler struct {
	log       *slog.Logger
	store     Store
	guard     *Guard
	reader    *Reader
	notifier  *Notifier
	reactions *Reactions
	typing    *TypingTracker
	previews  *preview.Service
	stream    *Broadcaster
	dir       UserDirectory
	auth      Authenticator
	met       *metrics.Metrics
}

// NewHandler wires the chat core components behind one HTTP handler.
func NewHandler(
	log *slog.Logger,
	store Store,
	previews *preview.Service,
	dir UserDirectory,
	auth Authenticator,
	streamCfg StreamConfig,
	met *metrics.Metrics,
) *Handler {
	typing := NewTypingTracker(typingTTL)

	var src PreviewSource
	if previews != nil {
		src = previews
	}
	reader := NewReader(log, store, typing, src)

	return &Handler{
		log:       log,
		store:     store,
		guard:     NewGuard(log, store),
		reader:    reader,
		notifier:  NewNotifier(log, store, reader),
		reactions: NewReactions(store),
		typing:    typing,
		previews:  previews,
		stream:    NewBroadcaster(log, reader, streamCfg, met),
		dir:       dir,
		auth:      auth,
		met:       met,
	}
}

// Register mounts all chat routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/send", h.handleSend)
	mux.HandleFunc("GET /api/chat/poll", h.handlePoll)
	mux.HandleFunc("GET /api/chat/stream", h.handleStream)
	mux.HandleFunc("POST /api/chat/edit", h.handleEdit)
	mux.HandleFunc("POST /api/chat/delete", h.handleDelete)
	mux.HandleFunc("POST /api/chat/react", h.reactHandler(true))
	mux.HandleFunc("POST /api/chat/unreact", h.reactHandler(false))
	mux.HandleFunc("GET /api/chat/notifications", h.handleNotifications)
	mux.HandleFunc("POST /api/chat/notifications/read", h.handleMarkRead)
	mux.HandleFunc("POST /api/chat/typing", h.handleTyping)
}

// identify resolves the caller or writes 401.
func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, ok := h.auth.Identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in to use chat")
		return Identity{}, false
	}
	return id, true
}

// requireCSRF gates mutating requests or writes 403.
func (h *Handler) requireCSRF(w http.ResponseWriter, r *http.Request, id Identity) bool {
	if !h.auth.VerifyCSRF(r, id) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "invalid or missing csrf token")
		return false
	}
	return true
}

func (h *Handler) countSend(result string) {
	if h.met != nil {
		h.met.SendTotal.WithLabelValues(result).Inc()
	}
}

// clientIP extracts the peer address, honoring the first hop of
// X-Forwarded-For when a proxy injected one.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		h.countSend("unauthorized")
		return
	}
	if !h.requireCSRF(w, r, ident) {
		h.countSend("csrf_invalid")
		return
	}

	var req sendRequest
	if err := decodeJSON(w, r, maxRequestBytes, &req); err != nil {
		h.countSend("bad_request")
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	body, code := validateBody(req.Body)
	if code != "" {
		h.countSend(code)
		writeError(w, http.StatusBadRequest, code, "message body rejected")
		return
	}

	token := strings.TrimSpace(req.ClientToken)
	if token == "" {
		// Assign one so the echoed response stays retry-safe.
		token = uuid.NewString()
	} else if !validClientToken(token) {
		h.countSend("bad_client_id")
		writeError(w, http.StatusBadRequest, "bad_client_id", "client token must be 8-64 url-safe chars")
		return
	}

	attachments, err := validateAttachments(req.Attachments)
	if err != nil {
		h.countSend("bad_request")
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r)

	verdict := h.guard.Admit(ctx, Subject{
		UserID:        ident.UserID,
		IP:            ip,
		Authenticated: true,
	}, Candidate{Body: body, ClientToken: token}, now)

	switch verdict.Decision {
	case DecisionThrottled:
		h.countSend("throttled")
		writeThrottled(w, verdict.RetryAfter)
		return
	case DecisionDuplicate:
		h.countSend("duplicate")
		writeError(w, http.StatusConflict, "duplicate", "identical message sent moments ago")
		return
	}

	if verdict.Existing != nil {
		// Idempotent replay of a previous send: echo the original row,
		// no insert, no fanout, no preview work.
		h.countSend("replay")
		h.writeMessage(ctx, w, http.StatusOK, *verdict.Existing)
		return
	}

	// Keep only reply targets that exist right now; the stored reference
	// stays weak and may dangle later.
	replyTo := req.ReplyToID
	if replyTo != nil {
		if _, err := h.store.GetMessage(ctx, *replyTo); err != nil {
			if !errors.Is(err, ErrNotFound) {
				h.log.Warn("chat.send.reply.lookup.fail", "err", err)
			}
			replyTo = nil
		}
	}

	mentions := resolveMentions(ctx, h.dir, req.MentionUserIDs, req.MentionNames, body)

	appendStart := time.Now()
	res, err := h.store.AppendMessage(ctx, AppendInput{
		AuthorID:    ident.UserID,
		AuthorName:  ident.Name,
		AuthorRole:  ident.Role,
		AuthorIP:    ip,
		Body:        body,
		ClientToken: token,
		ReplyToID:   replyTo,
		Mentions:    mentions,
		Attachments: attachments,
		Now:         now,
	})
	if err != nil {
		h.countSend("server_error")
		h.log.Error("chat.send.append.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not store message")
		return
	}
	if h.met != nil {
		h.met.AppendSeconds.Observe(time.Since(appendStart).Seconds())
	}

	if !res.Existing {
		h.notifier.Fanout(ctx, res.Message, now)
		h.populatePreview(r, res.Message)
	}

	h.typing.Clear(ident.UserID)
	h.countSend("ok")
	h.writeMessage(ctx, w, http.StatusCreated, res.Message)
}

// populatePreview resolves the first URL in the body so subsequent reads
// find it cached. Counted but never fatal.
func (h *Handler) populatePreview(r *http.Request, msg Message) {
	if h.previews == nil {
		return
	}
	u := preview.FirstURL(msg.Body)
	if u == "" {
		return
	}
	outcome := "none"
	if p := h.previews.Resolve(r.Context(), u, false); p != nil {
		outcome = "resolved"
	}
	if h.met != nil {
		h.met.PreviewFetches.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) writeMessage(ctx context.Context, w http.ResponseWriter, status int, m Message) {
	enriched := h.reader.Enrich(ctx, []Message{m})
	if len(enriched) == 0 {
		writeError(w, http.StatusInternalServerError, "server_error", "could not render message")
		return
	}
	writeJSON(w, status, sendResponse{EnrichedMessage: enriched[0], ClientToken: m.ClientToken})
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}
	if h.met != nil {
		h.met.PollTotal.Inc()
	}

	q := r.URL.Query()
	in := FetchInput{
		Limit:    intParam(q.Get("limit")),
		Window:   intParam(q.Get("window")),
		CallerID: ident.UserID,
	}
	if v, ok := int64Param(q.Get("since_id")); ok {
		in.SinceID = &v
	}
	if v, ok := int64Param(q.Get("before_id")); ok {
		in.BeforeID = &v
	}
	if v, ok := int64Param(q.Get("around_id")); ok {
		in.AroundID = &v
	}
	if t, ok := timeParam(q.Get("edited_since")); ok {
		in.EditedSince = &t
	}
	if t, ok := timeParam(q.Get("deleted_since")); ok {
		in.DeletedSince = &t
	}

	out, err := h.reader.Fetch(r.Context(), in)
	if err != nil {
		h.log.Error("chat.poll.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not read messages")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identify(w, r); !ok {
		return
	}
	h.stream.ServeHTTP(w, r)
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}
	if !h.requireCSRF(w, r, ident) {
		return
	}

	var req editRequest
	if err := decodeJSON(w, r, maxRequestBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	body, code := validateBody(req.Body)
	if code != "" {
		writeError(w, http.StatusBadRequest, code, "message body rejected")
		return
	}

	ctx := r.Context()
	msg, err := h.store.GetMessage(ctx, req.MessageID)
	if err != nil || msg.Deleted() {
		h.mutationLookupError(w, err)
		return
	}
	if msg.AuthorID != ident.UserID && !PrivilegedRole(ident.Role) {
		writeError(w, http.StatusForbidden, "forbidden", "not your message")
		return
	}

	now := time.Now().UTC()
	// Re-resolve mentions so the stored list matches the new body; edits
	// never create new notifications.
	mentions := resolveMentions(ctx, h.dir, nil, nil, body)
	if err := h.store.EditMessage(ctx, req.MessageID, body, mentions, now); err != nil {
		h.mutationLookupError(w, err)
		return
	}

	updated, err := h.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "could not reload message")
		return
	}
	h.writeMessage(ctx, w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}
	if !h.requireCSRF(w, r, ident) {
		return
	}

	var req deleteRequest
	if err := decodeJSON(w, r, maxRequestBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	ctx := r.Context()
	msg, err := h.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		h.mutationLookupError(w, err)
		return
	}
	if msg.AuthorID != ident.UserID && !PrivilegedRole(ident.Role) {
		writeError(w, http.StatusForbidden, "forbidden", "not your message")
		return
	}

	if err := h.store.DeleteMessage(ctx, req.MessageID, time.Now().UTC()); err != nil {
		h.mutationLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) mutationLookupError(w http.ResponseWriter, err error) {
	if err == nil || errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such message")
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error", "could not load message")
}

func (h *Handler) reactHandler(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := h.identify(w, r)
		if !ok {
			return
		}
		if !h.requireCSRF(w, r, ident) {
			return
		}

		var req reactRequest
		if err := decodeJSON(w, r, maxRequestBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
			return
		}

		ctx := r.Context()
		var (
			changed bool
			err     error
		)
		if add {
			changed, err = h.reactions.Add(ctx, req.MessageID, ident.UserID, req.Emoji, time.Now().UTC())
		} else {
			changed, err = h.reactions.Remove(ctx, req.MessageID, ident.UserID, req.Emoji)
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "no such message")
				return
			}
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		counts, err := h.reactions.BulkCounts(ctx, []int64{req.MessageID})
		if err != nil {
			h.log.Warn("chat.react.counts.fail", "err", err)
			counts = map[int64]map[string]int{req.MessageID: {}}
		}
		writeJSON(w, http.StatusOK, reactResponse{
			MessageID: req.MessageID,
			Changed:   changed,
			Counts:    counts[req.MessageID],
		})
	}
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}
	out, err := h.notifier.ListUnread(r.Context(), ident.UserID, intParam(r.URL.Query().Get("limit")))
	if err != nil {
		h.log.Error("chat.notifications.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not list notifications")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}
	if !h.requireCSRF(w, r, ident) {
		return
	}

	var req markReadRequest
	if err := decodeJSON(w, r, maxRequestBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	unread, err := h.notifier.MarkRead(r.Context(), ident.UserID, req.IDs, req.UptoID, time.Now().UTC())
	if err != nil {
		h.log.Error("chat.markread.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not mark notifications")
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{UnreadCount: unread})
}

func (h *Handler) handleTyping(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identify(w, r)
	if !ok {
		return
	}
	if !h.requireCSRF(w, r, ident) {
		return
	}

	var req typingRequest
	if err := decodeJSON(w, r, maxRequestBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	now := time.Now().UTC()
	if req.Stop {
		h.typing.Clear(ident.UserID)
		writeJSON(w, http.StatusOK, okResponse{OK: true})
		return
	}
	if !h.typing.Allow(ident.UserID, now) {
		writeThrottled(w, typingRateWindow)
		return
	}
	h.typing.Set(ident.UserID, ident.Name, now)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// ---- query param helpers ----

func intParam(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func int64Param(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// timeParam accepts RFC3339 or unix seconds.
func timeParam(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}
