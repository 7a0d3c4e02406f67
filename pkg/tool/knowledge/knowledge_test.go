package knowledge_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/tool"
	"github.com/m-mizutani/bizartvisor/pkg/tool/knowledge"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

type stubRetriever struct {
	gotQuery string
	gotTopK  int
}

func (r *stubRetriever) Retrieve(ctx context.Context, query string, topK int) []*model.ScoredChunk {
	r.gotQuery = query
	r.gotTopK = topK
	return []*model.ScoredChunk{
		{Chunk: &model.Chunk{SourceID: "guide.txt", Text: "install with make", CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}, Score: 0.9},
	}
}

func TestSearchKnowledge(t *testing.T) {
	retriever := &stubRetriever{}
	x := knowledge.New()
	ok, err := x.Init(context.Background(), &tool.Client{Retriever: retriever})
	gt.NoError(t, err)
	gt.True(t, ok)

	resp, err := x.Execute(context.Background(), genai.FunctionCall{
		Name: knowledge.FunctionName,
		Args: map[string]any{"query": "how to install", "limit": float64(50)},
	})
	gt.NoError(t, err)
	gt.Equal(t, retriever.gotQuery, "how to install")
	gt.Equal(t, retriever.gotTopK, 20)
	gt.Equal(t, resp.Response["count"], 1)

	_, err = x.Execute(context.Background(), genai.FunctionCall{Name: knowledge.FunctionName, Args: map[string]any{}})
	gt.Error(t, err)
}

func TestSearchKnowledgeDisabledWithoutRetriever(t *testing.T) {
	ok, err := knowledge.New().Init(context.Background(), &tool.Client{})
	gt.NoError(t, err)
	gt.False(t, ok)
}
