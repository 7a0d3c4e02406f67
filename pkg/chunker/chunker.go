// Package chunker splits raw text into bounded segments for embedding.
package chunker

import (
	"context"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Embedder produces an embedding vector for a text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunker dispatches to a splitting strategy selected by SplitterConfig
type Chunker struct {
	semantic *Semantic
}

// New creates a Chunker. The embedder is only needed by the semantic strategy
// and may be nil when that strategy is never requested.
func New(embedder Embedder, opts ...SemanticOption) *Chunker {
	c := &Chunker{}
	if embedder != nil {
		c.semantic = NewSemantic(embedder, opts...)
	}
	return c
}

// Split chunks text according to cfg. Returned chunks are never empty.
func (c *Chunker) Split(ctx context.Context, text string, cfg model.SplitterConfig) ([]string, error) {
	switch cfg.Kind {
	case model.SplitterRecursiveCharacter:
		return SplitRecursiveCharacter(text, cfg.ChunkSize, cfg.ChunkOverlap)

	case model.SplitterSemanticChunker:
		if c.semantic == nil {
			return nil, goerr.Wrap(model.ErrConfiguration, "semantic chunker requires an embedding provider")
		}
		return c.semantic.Split(ctx, text, cfg.NumberOfChunks)

	case model.SplitterNone:
		def := model.DefaultSplitter()
		return SplitRecursiveCharacter(text, def.ChunkSize, def.ChunkOverlap)

	default:
		return nil, goerr.Wrap(model.ErrConfiguration, "invalid splitter specified", goerr.V("splitter", cfg.Kind))
	}
}
