package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"traderoom/cmd/internal/metrics"
)

// Stream defaults. All env-tunable, see StreamConfigFromEnv.
const (
	streamDefaultPollInterval = 1 * time.Second
	streamDefaultHeartbeat    = 5 * time.Second
	streamDefaultSessionAge   = 25 * time.Second
	streamDefaultRetryMillis  = 3000
	streamReplayLimit         = 200
)

// StreamConfig tunes the SSE session loop.
type StreamConfig struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	SessionMaxAge     time.Duration
	RetryMillis       int
}

// StreamConfigFromEnv reads stream knobs with defaults.
func StreamConfigFromEnv(getenv func(string) string) StreamConfig {
	cfg := StreamConfig{
		PollInterval:      streamDefaultPollInterval,
		HeartbeatInterval: streamDefaultHeartbeat,
		SessionMaxAge:     streamDefaultSessionAge,
		RetryMillis:       streamDefaultRetryMillis,
	}
	if getenv == nil {
		return cfg
	}
	if d, err := time.ParseDuration(getenv("TR_STREAM_POLL_INTERVAL")); err == nil && d > 0 {
		cfg.PollInterval = d
	}
	if d, err := time.ParseDuration(getenv("TR_STREAM_HEARTBEAT")); err == nil && d > 0 {
		cfg.HeartbeatInterval = d
	}
	if d, err := time.ParseDuration(getenv("TR_STREAM_SESSION_MAX_AGE")); err == nil && d > 0 {
		cfg.SessionMaxAge = d
	}
	if n, err := strconv.Atoi(getenv("TR_STREAM_RETRY_MS")); err == nil && n > 0 {
		cfg.RetryMillis = n
	}
	return cfg
}

// Broadcaster runs one SSE session per connection: backlog replay, a
// polling-to-push steady state, heartbeats, and a bounded session
// lifetime with reconnect hand-off via the resume cursor.
//
// Session states: Replaying -> Steady -> Closing. The bounded lifetime
// (plus SSE auto-reconnect with Last-Event-ID) keeps connection count
// and per-connection memory naturally bounded under a stateless-process
// deployment; the alternative indefinite push loop is deliberately not
// used.
type Broadcaster struct {
	log    *slog.Logger
	reader *Reader
	cfg    StreamConfig
	met    *metrics.Metrics
}

// NewBroadcaster constructs a Broadcaster. met may be nil.
func NewBroadcaster(log *slog.Logger, reader *Reader, cfg StreamConfig, met *metrics.Metrics) *Broadcaster {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = streamDefaultPollInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = streamDefaultHeartbeat
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = streamDefaultSessionAge
	}
	if cfg.RetryMillis <= 0 {
		cfg.RetryMillis = streamDefaultRetryMillis
	}
	return &Broadcaster{log: log, reader: reader, cfg: cfg, met: met}
}

type helloPayload struct {
	LastID    int64  `json:"last_id"`
	SessionID string `json:"session_id"`
}

type byePayload struct {
	LastID int64 `json:"last_id"`
}

type pingPayload struct {
	TS time.Time `json:"ts"`
}

// resumePoint picks the resume cursor: max(query last_id, Last-Event-ID
// header, 0). Replay is exclusive (id > resume), so a harmless overlap
// of zero is the worst case across reconnects.
func resumePoint(r *http.Request) int64 {
	var resume int64
	if v, err := strconv.ParseInt(r.URL.Query().Get("last_id"), 10, 64); err == nil && v > resume {
		resume = v
	}
	if v, err := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64); err == nil && v > resume {
		resume = v
	}
	return resume
}

// ServeHTTP runs the session loop until the session age bound, client
// disconnect, or a write failure.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := ulid.Make().String()
	resume := resumePoint(r)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Advertise the reconnect delay before any event.
	fmt.Fprintf(w, "retry: %d\n\n", b.cfg.RetryMillis)
	flusher.Flush()

	if b.met != nil {
		b.met.StreamSessions.Inc()
		defer b.met.StreamSessions.Dec()
	}
	b.log.Info("sse.session.open", "session_id", sessionID, "resume", resume)

	ctx := r.Context()
	started := time.Now()

	emit := func(event string, id int64, payload any) bool {
		if err := writeSSE(w, flusher, event, id, payload); err != nil {
			return false
		}
		if b.met != nil {
			b.met.StreamEvents.WithLabelValues(event).Inc()
		}
		return true
	}

	// Replaying: one bounded backlog fetch, then hello with the resume id.
	lastMessageAt := time.Time{}
	n, newResume, ok := b.pump(ctx, emit, resume)
	if !ok {
		b.log.Info("sse.session.close", "session_id", sessionID, "reason", "replay_write_fail")
		return
	}
	if n > 0 {
		lastMessageAt = time.Now()
	}
	resume = newResume

	if !emit("hello", resume, helloPayload{LastID: resume, SessionID: sessionID}) {
		return
	}

	// Steady: cooperative timer loop; never blocks on a dead socket for
	// longer than one write.
	poll := time.NewTicker(b.cfg.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(b.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	closing := time.NewTimer(b.cfg.SessionMaxAge)
	defer closing.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("sse.session.close", "session_id", sessionID, "reason", "client_gone",
				"age_ms", time.Since(started).Milliseconds())
			return

		case <-closing.C:
			// Closing: hand the cursor back and force a reconnect.
			emit("bye", resume, byePayload{LastID: resume})
			b.log.Info("sse.session.close", "session_id", sessionID, "reason", "max_age", "resume", resume)
			return

		case <-poll.C:
			n, newResume, ok := b.pump(ctx, emit, resume)
			if !ok {
				b.log.Info("sse.session.close", "session_id", sessionID, "reason", "write_fail")
				return
			}
			if n > 0 {
				lastMessageAt = time.Now()
			}
			resume = newResume

		case <-heartbeat.C:
			// Suppress the ping when a message event went out recently;
			// the point is only to keep intermediaries from idling out.
			if time.Since(lastMessageAt) < b.cfg.HeartbeatInterval {
				continue
			}
			if !emit("ping", 0, pingPayload{TS: time.Now().UTC()}) {
				b.log.Info("sse.session.close", "session_id", sessionID, "reason", "heartbeat_write_fail")
				return
			}
		}
	}
}

// pump fetches messages with id > resume and emits each as one
// "message" event. It returns the number emitted, the advanced resume
// cursor, and whether all writes succeeded. A transient read failure
// is logged and skipped; the next tick retries.
func (b *Broadcaster) pump(ctx context.Context, emit func(string, int64, any) bool, resume int64) (int, int64, bool) {
	since := resume
	out, err := b.reader.Fetch(ctx, FetchInput{SinceID: &since, Limit: streamReplayLimit})
	if err != nil {
		if ctx.Err() == nil {
			b.log.Warn("sse.pump.fetch.fail", "err", err)
		}
		return 0, resume, true
	}

	n := 0
	for _, item := range out.Items {
		if item.ID <= resume {
			continue
		}
		if !emit("message", item.ID, item) {
			return n, resume, false
		}
		resume = item.ID
		n++
	}
	return n, resume, true
}

// writeSSE emits one event frame. Events carrying a message id set the
// SSE id field so browser auto-reconnect resumes via Last-Event-ID.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, id int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
