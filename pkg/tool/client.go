package tool

import (
	"context"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/crawler"
	"github.com/m-mizutani/bizartvisor/pkg/model"
)

// Retriever searches the knowledge collection
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) []*model.ScoredChunk
}

// Client contains shared resources that tools can use
type Client struct {
	LLM       adapter.LLM
	Embedder  adapter.Embedder
	Retriever Retriever
	Crawler   *crawler.Crawler
}
