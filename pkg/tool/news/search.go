package news

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/m-mizutani/goerr/v2"
)

// candidate is one search hit
type candidate struct {
	Title   string
	URL     string
	Snippet string
}

func (x *News) search(ctx context.Context, query string) ([]*candidate, error) {
	u, err := url.Parse(x.searchURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid search URL", goerr.V("url", x.searchURL))
	}
	q := u.Query()
	q.Set("q", query)
	if x.region != "" {
		q.Set("kl", x.region)
	}
	q.Set("df", "w")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create search request")
	}
	req.Header.Set("User-Agent", x.userAgent)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to send search request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("search returned error", goerr.V("status", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse search results")
	}

	var results []*candidate
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target := resolveResultURL(href)
		if target == "" {
			return true
		}

		results = append(results, &candidate{
			Title:   strings.TrimSpace(link.Text()),
			URL:     target,
			Snippet: strings.TrimSpace(s.Find(".result__snippet").Text()),
		})
		return len(results) < x.maxResults
	})

	return results, nil
}

// resolveResultURL unwraps redirect links of the form //duckduckgo.com/l/?uddg=<url>
func resolveResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return u.String()
	}
	return ""
}
