// Package news provides the WriteNewsArticle tool: it searches recent news,
// keeps the candidates closest to the topic and has the LLM write an article
// with sources.
package news

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/crawler"
	"github.com/m-mizutani/bizartvisor/pkg/tool"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

//go:embed prompt/article.md
var articlePromptRaw string

var articlePromptTmpl = template.Must(template.New("article").Parse(articlePromptRaw))

const (
	FunctionName       = "WriteNewsArticle"
	defaultSearchURL   = "https://html.duckduckgo.com/html/"
	defaultRegion      = "be-fr"
	defaultMaxResults  = 10
	defaultTopN        = 5
	minParagraphWords  = 50
	articleSeparator   = "\n_______________________________________________\n\n"
	defaultUserAgent   = "Mozilla/5.0 (compatible; bizartvisor/1.0)"
	maxArticleBodySize = 8000
)

type writeArticleInput struct {
	Topic    string `json:"topic"`
	Location string `json:"location"`
	Language string `json:"language"`
}

// News implements tool.Tool
type News struct {
	searchURL  string
	region     string
	maxResults int
	topN       int
	userAgent  string
	httpClient *http.Client

	llm      adapter.LLM
	embedder adapter.Embedder
	crawler  *crawler.Crawler
}

type Option func(*News)

// WithSearchURL overrides the HTML search endpoint
func WithSearchURL(u string) Option {
	return func(x *News) {
		x.searchURL = u
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(x *News) {
		x.httpClient = client
	}
}

func New(opts ...Option) *News {
	x := &News{
		searchURL:  defaultSearchURL,
		region:     defaultRegion,
		maxResults: defaultMaxResults,
		topN:       defaultTopN,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *News) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "news-search-url",
			Sources:     cli.EnvVars("BIZARTVISOR_NEWS_SEARCH_URL"),
			Usage:       "HTML news search endpoint",
			Value:       defaultSearchURL,
			Destination: &x.searchURL,
		},
		&cli.StringFlag{
			Name:        "news-region",
			Sources:     cli.EnvVars("BIZARTVISOR_NEWS_REGION"),
			Usage:       "Region code for news search",
			Value:       defaultRegion,
			Destination: &x.region,
		},
	}
}

// Init enables the tool when a model, an embedder and a crawler are available
func (x *News) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client == nil || client.LLM == nil || client.Embedder == nil || client.Crawler == nil {
		return false, nil
	}
	x.llm = client.LLM
	x.embedder = client.Embedder
	x.crawler = client.Crawler
	return true, nil
}

func (x *News) Prompt(ctx context.Context) string {
	return "When the user asks for news or recent events, use the WriteNewsArticle tool and tell your sources."
}

func (x *News) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        FunctionName,
				Description: "write a news article for a certain topic and location in the asked language. When asked for news, this tool should be used.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"topic": {
							Type:        genai.TypeString,
							Description: "The topic the article should be about",
						},
						"location": {
							Type:        genai.TypeString,
							Description: "The location for which the article will be written",
						},
						"language": {
							Type:        genai.TypeString,
							Description: "The language in which the article should be written",
						},
					},
					Required: []string{"topic", "location", "language"},
				},
			},
		},
	}
}

func (x *News) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	paramsJSON, err := json.Marshal(fc.Args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function arguments")
	}
	var input writeArticleInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	if input.Topic == "" {
		return nil, goerr.New("topic is required")
	}

	article, err := x.writeArticle(ctx, input)
	if err != nil {
		return nil, err
	}

	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{"result": article},
	}, nil
}

func (x *News) writeArticle(ctx context.Context, input writeArticleInput) (string, error) {
	topic := input.Topic
	if input.Location != "" {
		topic = fmt.Sprintf("%s in %s", input.Topic, input.Location)
	}
	language := input.Language
	if language == "" {
		language = "English"
	}

	candidates, err := x.search(ctx, topic)
	if err != nil {
		logging.From(ctx).Warn("news search failed", "topic", topic, "error", err)
		candidates = nil
	}

	top, err := x.rerank(ctx, topic, candidates)
	if err != nil {
		return "", err
	}
	bodies := x.fetchBodies(ctx, top)

	var prompt bytes.Buffer
	if err := articlePromptTmpl.Execute(&prompt, map[string]string{
		"Articles":   formatCandidates(top, nil),
		"Additional": formatCandidates(top, bodies),
		"Topic":      topic,
		"Language":   language,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render article prompt")
	}

	resp, err := x.llm.GenerateContent(ctx, []*genai.Content{
		genai.NewContentFromText(prompt.String(), genai.RoleUser),
	}, &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)})
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate article", goerr.V("topic", topic))
	}

	return adapter.ResponseText(resp), nil
}

// rerank orders candidates by embedding similarity to the topic and keeps topN
func (x *News) rerank(ctx context.Context, topic string, candidates []*candidate) ([]*candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	query, err := x.embedder.Embed(ctx, topic)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed topic")
	}

	scores := make([]float64, len(candidates))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, c := range candidates {
		eg.Go(func() error {
			vec, err := x.embedder.Embed(ctx, c.Title+": "+c.Snippet)
			if err != nil {
				return goerr.Wrap(err, "failed to embed candidate", goerr.V("url", c.URL))
			}
			scores[i] = cosine(query, vec)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	n := min(x.topN, len(idx))
	top := make([]*candidate, n)
	for i := range n {
		top[i] = candidates[idx[i]]
	}
	return top, nil
}

// fetchBodies downloads each article and keeps substantial paragraphs.
// Failed downloads yield an empty body.
func (x *News) fetchBodies(ctx context.Context, candidates []*candidate) []string {
	bodies := make([]string, len(candidates))
	var eg errgroup.Group
	eg.SetLimit(4)

	for i, c := range candidates {
		eg.Go(func() error {
			text, _, err := x.crawler.FetchText(ctx, c.URL)
			if err != nil {
				logging.From(ctx).Warn("failed to fetch article", "url", c.URL, "error", err)
				return nil
			}
			bodies[i] = substantialParagraphs(text)
			return nil
		})
	}
	_ = eg.Wait()
	return bodies
}

func substantialParagraphs(text string) string {
	var kept []string
	for _, p := range strings.Split(text, "\n") {
		if len(strings.Fields(p)) >= minParagraphWords {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	joined := strings.Join(kept, "\n\n")
	if len(joined) > maxArticleBodySize {
		joined = strings.ToValidUTF8(joined[:maxArticleBodySize], "")
	}
	return joined
}

// formatCandidates renders snippets, or bodies when given
func formatCandidates(candidates []*candidate, bodies []string) string {
	var docs []string
	for i, c := range candidates {
		content := c.Snippet
		if bodies != nil {
			content = bodies[i]
			if content == "" {
				continue
			}
		}
		docs = append(docs, fmt.Sprintf("Title: %s\n\nURL: %s\n\nContent:\n%s\n", c.Title, c.URL, content))
	}
	return strings.Join(docs, articleSeparator)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
