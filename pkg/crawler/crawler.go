// Package crawler fetches pages of a single site depth-first and extracts
// their readable text.
package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/84.0.4147.105 Safari/537.36"
	maxBodySize      = 5 * 1024 * 1024
)

// Crawler is safe for concurrent use; each Crawl call owns its own state
type Crawler struct {
	client    *http.Client
	userAgent string
}

type Option func(*Crawler)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Crawler) {
		c.client = client
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Crawler) {
		c.userAgent = ua
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Crawler) {
		c.client = &http.Client{Timeout: d}
	}
}

func New(opts ...Option) *Crawler {
	c := &Crawler{
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// state is the bookkeeping of one crawl, owned by the goroutine running it
type state struct {
	visited  map[string]string
	failed   map[string]struct{}
	host     string
	maxLinks int
}

func (s *state) exhausted() bool {
	return len(s.visited) >= s.maxLinks
}

// Crawl visits pages reachable from startURL on the same host, following
// anchors depth-first in document order. maxDepth counts hops from the
// start page and maxLinks bounds the number of fetched pages. Pages that
// fail to load are logged and skipped. The only error is an invalid
// startURL; cancellation returns the pages collected so far.
func (c *Crawler) Crawl(ctx context.Context, startURL string, maxDepth, maxLinks int) (map[string]string, error) {
	start, err := normalize(nil, startURL)
	if err != nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "invalid start URL", goerr.V("url", startURL), goerr.V("reason", err.Error()))
	}

	st := &state{
		visited:  make(map[string]string),
		failed:   make(map[string]struct{}),
		host:     start.Host,
		maxLinks: maxLinks,
	}
	c.visit(ctx, st, start, maxDepth)

	logging.From(ctx).Info("crawl finished", "start", start.String(), "pages", len(st.visited), "failed", len(st.failed))
	return st.visited, nil
}

func (c *Crawler) visit(ctx context.Context, st *state, u *url.URL, depth int) {
	key := u.String()
	if depth < 0 || st.exhausted() || ctx.Err() != nil {
		return
	}
	if _, ok := st.visited[key]; ok {
		return
	}
	if _, ok := st.failed[key]; ok {
		return
	}
	if u.Host != st.host {
		return
	}

	text, links, err := c.fetch(ctx, u, st.host)
	if err != nil {
		st.failed[key] = struct{}{}
		logging.From(ctx).Warn("failed to visit page", "url", key, "error", err)
		return
	}
	st.visited[key] = text

	for _, link := range links {
		if st.exhausted() {
			return
		}
		c.visit(ctx, st, link, depth-1)
	}
}

// FetchText downloads one page and returns its text and absolute links
func (c *Crawler) FetchText(ctx context.Context, rawURL string) (string, []string, error) {
	u, err := normalize(nil, rawURL)
	if err != nil {
		return "", nil, goerr.Wrap(model.ErrConfiguration, "invalid URL", goerr.V("url", rawURL), goerr.V("reason", err.Error()))
	}

	text, links, err := c.fetch(ctx, u, "")
	if err != nil {
		return "", nil, err
	}

	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.String()
	}
	return text, out, nil
}

// fetch downloads u. A non-empty host rejects responses that were redirected
// to another host.
func (c *Crawler) fetch(ctx context.Context, u *url.URL, host string) (string, []*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, goerr.Wrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if host != "" && resp.Request.URL.Host != host {
		return "", nil, goerr.New("redirected to another host", goerr.V("location", resp.Request.URL.String()))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, goerr.New("unexpected status", goerr.V("status", resp.StatusCode))
	}

	body := io.LimitReader(resp.Body, maxBodySize)
	contentType := resp.Header.Get("Content-Type")
	switch {
	case contentType == "" || strings.Contains(contentType, "html"):
		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return "", nil, goerr.Wrap(err, "failed to parse HTML")
		}
		return extractText(doc), extractLinks(doc, resp.Request.URL), nil

	case strings.HasPrefix(contentType, "text/"):
		data, err := io.ReadAll(body)
		if err != nil {
			return "", nil, goerr.Wrap(err, "failed to read body")
		}
		return cleanText(string(data)), nil, nil

	default:
		return "", nil, goerr.New("unsupported content type", goerr.V("content_type", contentType))
	}
}

// extractText drops script and style elements and returns the remaining
// text in document order
func extractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	return cleanText(doc.Text())
}

// cleanText trims every line, splits lines on double spaces and joins the
// non-empty phrases with newlines
func cleanText(text string) string {
	var phrases []string
	for _, line := range strings.Split(text, "\n") {
		for _, phrase := range strings.Split(strings.TrimSpace(line), "  ") {
			if p := strings.TrimSpace(phrase); p != "" {
				phrases = append(phrases, p)
			}
		}
	}
	return strings.Join(phrases, "\n")
}

func extractLinks(doc *goquery.Document, base *url.URL) []*url.URL {
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if u, err := normalize(base, href); err == nil {
			links = append(links, u)
		}
	})
	return links
}

// normalize resolves ref against base, drops the fragment and accepts only
// http(s) URLs with a host
func normalize(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, goerr.New("unsupported scheme", goerr.V("scheme", u.Scheme))
	}
	if u.Host == "" {
		return nil, goerr.New("missing host")
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}
