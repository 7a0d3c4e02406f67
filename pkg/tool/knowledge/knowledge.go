// Package knowledge provides the search_knowledge tool, which lets the agent
// query the ingested collection on its own.
package knowledge

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/bizartvisor/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const (
	FunctionName = "search_knowledge"
	defaultLimit = 5
	maxLimit     = 20
)

type searchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResult struct {
	Source string  `json:"source"`
	Date   string  `json:"date"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

type Search struct {
	retriever tool.Retriever
}

func New() *Search {
	return &Search{}
}

func (x *Search) Flags() []cli.Flag {
	return nil
}

func (x *Search) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client == nil || client.Retriever == nil {
		return false, nil
	}
	x.retriever = client.Retriever
	return true, nil
}

func (x *Search) Prompt(ctx context.Context) string {
	return "Use the search_knowledge tool to look up documents and web pages the user has added to the knowledge base."
}

func (x *Search) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        FunctionName,
				Description: "Search the knowledge base of uploaded documents and crawled pages by semantic similarity",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {
							Type:        genai.TypeString,
							Description: "Standalone search query",
						},
						"limit": {
							Type:        genai.TypeInteger,
							Description: "Maximum number of passages to return (default 5, max 20)",
						},
					},
					Required: []string{"query"},
				},
			},
		},
	}
}

func (x *Search) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	paramsJSON, err := json.Marshal(fc.Args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function arguments")
	}
	var input searchInput
	if err := json.Unmarshal(paramsJSON, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	if input.Query == "" {
		return nil, goerr.New("query is required")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	chunks := x.retriever.Retrieve(ctx, input.Query, limit)
	results := make([]searchResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, searchResult{
			Source: c.SourceID,
			Date:   c.CreatedAt.Format("2006-01-02"),
			Text:   c.Text,
			Score:  c.Score,
		})
	}

	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{"result": results, "count": len(results)},
	}, nil
}
