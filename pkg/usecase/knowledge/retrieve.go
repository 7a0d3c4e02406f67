package knowledge

import (
	"context"
	"sort"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
)

// DefaultTopK is the number of chunks retrieved for a question
const DefaultTopK = 5

// Retrieve returns up to topK chunks most similar to query. Retrieval never
// fails: embedding or search errors are logged and an empty result returned,
// so a conversation can continue without context.
func (uc *UseCase) Retrieve(ctx context.Context, query string, topK int) []*model.ScoredChunk {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := uc.embedder.Embed(ctx, query)
	if err != nil {
		logging.From(ctx).Warn("retrieval degraded: failed to embed query", "error", err)
		return []*model.ScoredChunk{}
	}

	results, err := uc.index.Search(ctx, uc.collection.Name, vec, topK)
	if err != nil {
		logging.From(ctx).Warn("retrieval degraded: failed to search index", "error", err, "collection", uc.collection.Name)
		return []*model.ScoredChunk{}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
