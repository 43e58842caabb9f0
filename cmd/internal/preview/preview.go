// Package preview fetches and caches link-preview metadata for URLs that
// appear in chat messages.
//
// The write path resolves a preview (fetching on miss); sync reads only
// consult the cache. A successful fetch is cached for the TTL even when
// the page exposed no usable metadata, so unfriendly hosts are not
// re-fetched on every reference. A failed fetch is NOT cached and may be
// retried on the next reference.
package preview

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Preview is the metadata extracted for one URL.
type Preview struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Type        string `json:"type,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Embed       *Embed `json:"embed,omitempty"`
}

// Embed describes how a known provider's content may be embedded inline.
type Embed struct {
	Kind string `json:"kind"` // currently always "iframe"
	URL  string `json:"url"`
}

// Cache persists previews with their fetch time. TTL policy lives in the
// Service; the cache only stores and reports age.
type Cache interface {
	Get(key string) (Preview, time.Time, bool, error)
	Put(key string, p Preview, fetchedAt time.Time) error
	Delete(key string) error
	Close() error
}

// DefaultTTL is how long a cached preview stays fresh.
const DefaultTTL = 24 * time.Hour

// Service resolves URLs to previews through the cache and the fetcher.
type Service struct {
	log     *slog.Logger
	cache   Cache
	fetch   *fetcher
	ttl     time.Duration
	limiter *rate.Limiter
}

// Config tunes a Service. Zero values select defaults.
type Config struct {
	TTL            time.Duration
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	MaxBodyBytes   int64
	// FetchesPerSecond bounds outbound fetches across all senders.
	FetchesPerSecond float64
}

// NewService constructs a Service over the given cache.
func NewService(log *slog.Logger, cache Cache, cfg Config) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	fps := cfg.FetchesPerSecond
	if fps <= 0 {
		fps = 5
	}
	return &Service{
		log:     log,
		cache:   cache,
		fetch:   newFetcher(cfg),
		ttl:     ttl,
		limiter: rate.NewLimiter(rate.Limit(fps), int(fps)+1),
	}
}

// Close releases the underlying cache.
func (s *Service) Close() error { return s.cache.Close() }

// CacheKey returns the stable cache key for a URL.
func CacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(normalizeURL(rawURL)))
	return hex.EncodeToString(sum[:])
}

// normalizeURL canonicalizes scheme/host case, strips fragments and
// default ports, so equivalent URLs share one cache entry.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	return u.String()
}

// Lookup returns the cached preview for rawURL, or nil. It never fetches,
// and it treats cache errors as a miss: enrichment degrades, reads never
// fail because of the preview layer.
func (s *Service) Lookup(rawURL string) *Preview {
	if rawURL == "" {
		return nil
	}
	key := CacheKey(rawURL)
	p, fetchedAt, ok, err := s.cache.Get(key)
	if err != nil {
		s.log.Warn("preview.cache.get.fail", "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	if time.Since(fetchedAt) > s.ttl {
		if err := s.cache.Delete(key); err != nil {
			s.log.Warn("preview.cache.delete.fail", "err", err)
		}
		return nil
	}
	return &p
}

// Resolve returns the preview for rawURL, fetching and caching on a miss
// (or when force is set). A fetch or parse failure yields nil without
// caching, so the URL may be retried on its next reference.
func (s *Service) Resolve(ctx context.Context, rawURL string, force bool) *Preview {
	if rawURL == "" {
		return nil
	}
	if !force {
		if p := s.Lookup(rawURL); p != nil {
			return p
		}
	}

	if !s.limiter.Allow() {
		s.log.Warn("preview.fetch.limited", "url", rawURL)
		return nil
	}

	p, err := s.fetch.Fetch(ctx, rawURL)
	if err != nil {
		s.log.Info("preview.fetch.fail", "url", rawURL, "err", err)
		return nil
	}

	applyProvider(p)

	if err := s.cache.Put(CacheKey(rawURL), *p, time.Now().UTC()); err != nil {
		s.log.Warn("preview.cache.put.fail", "err", err)
	}
	return p
}

var urlRE = regexp.MustCompile(`https?://[^\s<>"']+`)

// FirstURL returns the first http(s) URL in body, or "".
func FirstURL(body string) string {
	m := urlRE.FindString(body)
	// Trailing punctuation is almost always sentence punctuation, not
	// part of the URL.
	return strings.TrimRight(m, ".,;:!?)")
}
