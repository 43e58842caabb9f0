package preview

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultConnectTimeout = 3 * time.Second
	defaultTotalTimeout   = 4 * time.Second
	defaultMaxBodyBytes   = 20 << 10 // 20 KiB

	fetchUserAgent = "traderoom-linkpreview/1.0"
)

// fetcher retrieves a page and extracts Open Graph / title metadata from
// a bounded prefix of the body.
type fetcher struct {
	client       *http.Client
	totalTimeout time.Duration
	maxBodyBytes int64
}

func newFetcher(cfg Config) *fetcher {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = defaultConnectTimeout
	}
	total := cfg.TotalTimeout
	if total <= 0 {
		total = defaultTotalTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connect,
				}).DialContext,
				TLSHandshakeTimeout:   connect,
				ResponseHeaderTimeout: total,
				MaxIdleConns:          4,
			},
		},
		totalTimeout: total,
		maxBodyBytes: maxBody,
	}
}

// Fetch retrieves rawURL and parses preview metadata. On any transport or
// HTTP failure it returns an error; a page with no metadata is NOT an
// error (hostname/path fallbacks apply).
func (f *fetcher) Fetch(ctx context.Context, rawURL string) (*Preview, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, f.totalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil && len(body) == 0 {
		return nil, err
	}

	p := parseMetadata(body)
	p.URL = rawURL
	fillFallbacks(p, u)
	return p, nil
}

// parseMetadata tokenizes an HTML prefix and collects og:* meta tags and
// the <title> text. A truncated document is fine: the tokenizer just
// stops at the cut.
func parseMetadata(body []byte) *Preview {
	p := &Preview{}
	z := html.NewTokenizer(strings.NewReader(string(body)))

	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return p
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "meta":
				applyMetaTag(p, tok)
			case "title":
				inTitle = true
			case "body":
				// Metadata lives in <head>; stop early.
				return p
			}
		case html.EndTagToken:
			if z.Token().Data == "title" {
				inTitle = false
			}
		case html.TextToken:
			if inTitle && p.Title == "" {
				p.Title = strings.TrimSpace(z.Token().Data)
			}
		}
	}
}

func applyMetaTag(p *Preview, tok html.Token) {
	var prop, content string
	for _, a := range tok.Attr {
		switch a.Key {
		case "property", "name":
			prop = strings.ToLower(strings.TrimSpace(a.Val))
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	if content == "" {
		return
	}
	switch prop {
	case "og:title":
		p.Title = content
	case "og:description":
		p.Description = content
	case "description":
		if p.Description == "" {
			p.Description = content
		}
	case "og:image", "og:image:url", "og:image:secure_url":
		if p.ImageURL == "" {
			p.ImageURL = content
		}
	case "og:site_name":
		p.SiteName = content
	case "og:type":
		p.Type = content
	}
}

// fillFallbacks substitutes hostname-derived values when the page carried
// no usable metadata.
func fillFallbacks(p *Preview, u *url.URL) {
	if p.Title == "" {
		title := u.Hostname()
		if u.Path != "" && u.Path != "/" {
			title += u.Path
		}
		p.Title = title
	}
	if p.SiteName == "" {
		p.SiteName = u.Hostname()
	}
	if p.Type == "" {
		p.Type = "website"
	}
}
