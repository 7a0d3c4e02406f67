package main

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type countParams struct {
	Text string `json:"text" jsonschema:"Text to count words of"`
}

func countWords(ctx context.Context, req *mcp.CallToolRequest, params *countParams) (*mcp.CallToolResult, any, error) {
	n := len(strings.Fields(params.Text))
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: strconv.Itoa(n) + " words"},
		},
	}, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "word-counter",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "count_words",
		Description: "Count words of a text",
	}, countWords)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
