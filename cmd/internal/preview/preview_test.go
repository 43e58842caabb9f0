package preview

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCacheKeyNormalization(t *testing.T) {
	t.Parallel()

	base := CacheKey("https://example.com/page")
	same := []string{
		"HTTPS://EXAMPLE.COM/page",
		"https://example.com:443/page",
		"https://example.com/page#section",
		"  https://example.com/page  ",
	}
	for _, u := range same {
		if got := CacheKey(u); got != base {
			t.Fatalf("CacheKey(%q) differs from canonical", u)
		}
	}

	different := []string{
		"https://example.com/page?x=1",
		"https://example.com/other",
		"http://example.com/page",
	}
	for _, u := range different {
		if got := CacheKey(u); got == base {
			t.Fatalf("CacheKey(%q) must differ from canonical", u)
		}
	}
}

func TestFirstURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "none", body: "plain text", want: ""},
		{name: "bare", body: "see https://example.com/doc here", want: "https://example.com/doc"},
		{name: "first of two", body: "https://a.example.com then https://b.example.com", want: "https://a.example.com"},
		{name: "trailing period", body: "read https://example.com/doc.", want: "https://example.com/doc"},
		{name: "parenthesized", body: "(https://example.com/doc)", want: "https://example.com/doc"},
		{name: "http scheme", body: "http://example.com", want: "http://example.com"},
		{name: "not a url", body: "ftp://example.com/file", want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := FirstURL(tc.body); got != tc.want {
				t.Fatalf("FirstURL(%q)=%q want=%q", tc.body, got, tc.want)
			}
		})
	}
}

func TestLookupHonorsTTL(t *testing.T) {
	t.Parallel()
	cache := NewMemoryCache()
	svc := NewService(testLog(), cache, Config{TTL: time.Hour})

	u := "https://example.com/article"
	if err := cache.Put(CacheKey(u), Preview{URL: u, Title: "Fresh"}, time.Now().Add(-30*time.Minute)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if p := svc.Lookup(u); p == nil || p.Title != "Fresh" {
		t.Fatalf("fresh lookup=%+v", p)
	}

	stale := "https://example.com/old"
	if err := cache.Put(CacheKey(stale), Preview{URL: stale, Title: "Stale"}, time.Now().Add(-2*time.Hour)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if p := svc.Lookup(stale); p != nil {
		t.Fatalf("stale lookup=%+v want nil", p)
	}
	// The expired entry is reaped, not just skipped.
	if _, _, ok, _ := cache.Get(CacheKey(stale)); ok {
		t.Fatalf("expired entry still cached")
	}
}

func TestLookupNeverFetches(t *testing.T) {
	t.Parallel()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("<html><head><title>x</title></head></html>"))
	}))
	t.Cleanup(srv.Close)

	svc := NewService(testLog(), NewMemoryCache(), Config{})
	if p := svc.Lookup(srv.URL); p != nil {
		t.Fatalf("uncached lookup=%+v want nil", p)
	}
	if hits != 0 {
		t.Fatalf("Lookup fetched the page %d times", hits)
	}
}

func TestResolveFetchesAndCaches(t *testing.T) {
	t.Parallel()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(`<html><head>
			<meta property="og:title" content="Q2 Results">
			<meta property="og:site_name" content="Example News">
		</head><body>ignored</body></html>`))
	}))
	t.Cleanup(srv.Close)

	svc := NewService(testLog(), NewMemoryCache(), Config{})
	p := svc.Resolve(context.Background(), srv.URL, false)
	if p == nil || p.Title != "Q2 Results" || p.SiteName != "Example News" {
		t.Fatalf("resolved=%+v", p)
	}

	// Second resolve is a cache hit.
	if p := svc.Resolve(context.Background(), srv.URL, false); p == nil || p.Title != "Q2 Results" {
		t.Fatalf("cached resolve=%+v", p)
	}
	if hits != 1 {
		t.Fatalf("fetches=%d want=1", hits)
	}

	// Lookup now sees it too.
	if p := svc.Lookup(srv.URL); p == nil {
		t.Fatalf("lookup after resolve=nil")
	}
}

func TestResolveFailureNotCached(t *testing.T) {
	t.Parallel()
	var status = http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte("<html><head><title>Recovered</title></head></html>"))
	}))
	t.Cleanup(srv.Close)

	svc := NewService(testLog(), NewMemoryCache(), Config{})
	if p := svc.Resolve(context.Background(), srv.URL, false); p != nil {
		t.Fatalf("failed fetch resolved=%+v", p)
	}

	// The failure was not cached, so the next reference retries and wins.
	status = http.StatusOK
	if p := svc.Resolve(context.Background(), srv.URL, false); p == nil || p.Title != "Recovered" {
		t.Fatalf("retry resolve=%+v", p)
	}
}

func TestResolveEmptyURL(t *testing.T) {
	t.Parallel()
	svc := NewService(testLog(), NewMemoryCache(), Config{})
	if p := svc.Resolve(context.Background(), "", false); p != nil {
		t.Fatalf("empty url resolved=%+v", p)
	}
}
