package chat

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type sseEvent struct {
	event string
	id    string
	data  string
}

// readSSE consumes the whole stream (the session closes itself at max
// age) and returns the event frames, skipping the retry preamble.
func readSSE(t *testing.T, body *bufio.Reader) []sseEvent {
	t.Helper()

	var events []sseEvent
	var cur sseEvent
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if cur.event != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

func newStreamServer(t *testing.T, s Store) *httptest.Server {
	t.Helper()
	b := NewBroadcaster(testLog(), newTestReader(s), StreamConfig{
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: time.Hour, // keep pings out of these tests
		SessionMaxAge:     150 * time.Millisecond,
		RetryMillis:       1,
	}, nil)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamReplayHelloBye(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	seedMessage(t, s, AppendInput{AuthorID: 1, Body: "first"})
	seedMessage(t, s, AppendInput{AuthorID: 1, Body: "second"})

	srv := newStreamServer(t, s)
	resp, err := http.Get(srv.URL + "?last_id=0")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type=%q", ct)
	}

	events := readSSE(t, bufio.NewReader(resp.Body))
	if len(events) < 4 {
		t.Fatalf("events=%d want at least replay(2)+hello+bye: %+v", len(events), events)
	}
	if events[0].event != "message" || events[0].id != "1" {
		t.Fatalf("first event=%+v", events[0])
	}
	if events[1].event != "message" || events[1].id != "2" {
		t.Fatalf("second event=%+v", events[1])
	}
	if events[2].event != "hello" {
		t.Fatalf("third event=%+v want hello", events[2])
	}
	var hello helloPayload
	if err := json.Unmarshal([]byte(events[2].data), &hello); err != nil {
		t.Fatalf("hello payload: %v", err)
	}
	if hello.LastID != 2 || hello.SessionID == "" {
		t.Fatalf("hello=%+v", hello)
	}

	last := events[len(events)-1]
	if last.event != "bye" {
		t.Fatalf("final event=%+v want bye", last)
	}
	var bye byePayload
	if err := json.Unmarshal([]byte(last.data), &bye); err != nil {
		t.Fatalf("bye payload: %v", err)
	}
	if bye.LastID != 2 {
		t.Fatalf("bye last_id=%d want=2", bye.LastID)
	}
}

func TestStreamResumeFromLastEventID(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	for i := 0; i < 3; i++ {
		seedMessage(t, s, AppendInput{AuthorID: 1, Body: "m"})
	}

	srv := newStreamServer(t, s)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Last-Event-ID", "2")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	events := readSSE(t, bufio.NewReader(resp.Body))
	var replayed []string
	for _, e := range events {
		if e.event == "message" {
			replayed = append(replayed, e.id)
		}
	}
	if len(replayed) != 1 || replayed[0] != "3" {
		t.Fatalf("replayed=%v want only id 3", replayed)
	}
}

func TestStreamPicksUpNewMessages(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	srv := newStreamServer(t, s)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	// Append after the session opened; a poll tick must deliver it.
	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = s.AppendMessage(t.Context(), AppendInput{AuthorID: 1, AuthorName: "ava", Body: "live one", Now: testEpoch})
	}()

	events := readSSE(t, bufio.NewReader(resp.Body))
	var sawLive bool
	for _, e := range events {
		if e.event != "message" {
			continue
		}
		var em EnrichedMessage
		if err := json.Unmarshal([]byte(e.data), &em); err != nil {
			t.Fatalf("message payload: %v", err)
		}
		if em.Body == "live one" {
			sawLive = true
		}
	}
	if !sawLive {
		t.Fatalf("live message never streamed: %+v", events)
	}
}

func TestStreamHeartbeat(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	b := NewBroadcaster(testLog(), newTestReader(s), StreamConfig{
		PollInterval:      time.Hour,
		HeartbeatInterval: 20 * time.Millisecond,
		SessionMaxAge:     120 * time.Millisecond,
		RetryMillis:       1,
	}, nil)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	events := readSSE(t, bufio.NewReader(resp.Body))
	pings := 0
	for _, e := range events {
		if e.event == "ping" {
			pings++
		}
	}
	if pings == 0 {
		t.Fatalf("expected at least one ping on an idle stream: %+v", events)
	}
}

func TestStreamConfigFromEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"TR_STREAM_POLL_INTERVAL":   "2s",
		"TR_STREAM_SESSION_MAX_AGE": "40s",
		"TR_STREAM_RETRY_MS":        "500",
	}
	cfg := StreamConfigFromEnv(func(k string) string { return env[k] })

	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("poll=%v", cfg.PollInterval)
	}
	if cfg.HeartbeatInterval != streamDefaultHeartbeat {
		t.Fatalf("heartbeat=%v want default", cfg.HeartbeatInterval)
	}
	if cfg.SessionMaxAge != 40*time.Second || cfg.RetryMillis != 500 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestResumePoint(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/api/chat/stream?last_id=7", nil)
	r.Header.Set("Last-Event-ID", "12")
	if got := resumePoint(r); got != 12 {
		t.Fatalf("resume=%d want=12 (header wins when larger)", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/chat/stream?last_id=20", nil)
	r.Header.Set("Last-Event-ID", "12")
	if got := resumePoint(r); got != 20 {
		t.Fatalf("resume=%d want=20", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/chat/stream", nil)
	if got := resumePoint(r); got != 0 {
		t.Fatalf("resume=%d want=0", got)
	}
}
