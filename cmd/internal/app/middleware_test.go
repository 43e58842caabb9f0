package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWithRequestLogging_SetsRequestID(t *testing.T) {
	t.Parallel()

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}), discardLogger())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/chat/poll", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusTeapot)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected %s header to be set", RequestIDHeader)
	}
}

func TestWithRequestLogging_UniquePerRequest(t *testing.T) {
	t.Parallel()

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), discardLogger())

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		id := rr.Header().Get(RequestIDHeader)
		if id == "" || seen[id] {
			t.Fatalf("request id not unique: %q", id)
		}
		seen[id] = true
	}
}

func TestLoggingResponseWriter_PreservesFlusher(t *testing.T) {
	t.Parallel()

	// httptest.ResponseRecorder implements http.Flusher; the wrapper
	// must not hide it or SSE stops flushing.
	rr := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rr, status: http.StatusOK}

	var w http.ResponseWriter = lrw
	if _, ok := w.(http.Flusher); !ok {
		t.Fatalf("wrapper does not expose http.Flusher")
	}
	lrw.Flush()
	if !rr.Flushed {
		t.Fatalf("flush did not reach underlying writer")
	}
}

func TestLoggingResponseWriter_CountsBytes(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rr, status: http.StatusOK}

	if _, err := lrw.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := lrw.Write([]byte(" world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if lrw.bytes != 11 {
		t.Fatalf("bytes=%d want=11", lrw.bytes)
	}
}
