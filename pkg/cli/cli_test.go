package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/adapter/adaptertest"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/repository"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/chat"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

func TestParseSplitterFlags(t *testing.T) {
	cfg, err := parseSplitterFlags("", "")
	gt.NoError(t, err)
	gt.Equal(t, cfg, model.DefaultSplitter())

	cfg, err = parseSplitterFlags("recursive_character", `{"chunk_size": 500, "chunk_overlap": 50}`)
	gt.NoError(t, err)
	gt.Equal(t, cfg.ChunkSize, 500)
	gt.Equal(t, cfg.ChunkOverlap, 50)

	_, err = parseSplitterFlags("recursive_character", `{broken`)
	gt.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = parseSplitterFlags("magic", "")
	gt.True(t, errors.Is(err, model.ErrConfiguration))
}

func newTestREPL(t *testing.T, llm *adaptertest.LLM) (*repl, *bytes.Buffer) {
	t.Helper()
	models, err := adapter.NewModels([]string{"flash", "gemma"}, []adapter.LLM{llm, &adaptertest.LLM{ModelName: "gemma"}}, "flash")
	gt.NoError(t, err)
	svc := chat.New(models, repository.NewMemoryHistory())
	a, err := svc.NewAssistant("", "")
	gt.NoError(t, err)

	var buf bytes.Buffer
	return &repl{w: &buf, assistant: a}, &buf
}

func TestREPLCommands(t *testing.T) {
	r, buf := newTestREPL(t, &adaptertest.LLM{ModelName: "flash", Tools: true})

	quit, err := r.command("/rag")
	gt.NoError(t, err)
	gt.False(t, quit)
	gt.True(t, r.opts.UseRAG)

	_, err = r.command("/tools")
	gt.NoError(t, err)
	gt.True(t, r.opts.UseTools)

	_, err = r.command("/model gemma")
	gt.NoError(t, err)
	gt.Equal(t, r.assistant.ModelName(), "gemma")

	_, err = r.command("/model unknown")
	gt.True(t, errors.Is(err, model.ErrConfiguration))

	before := r.assistant.SessionID()
	_, err = r.command("/session new")
	gt.NoError(t, err)
	gt.NotEqual(t, r.assistant.SessionID(), before)

	_, err = r.command("/session abc")
	gt.NoError(t, err)
	gt.Equal(t, r.assistant.SessionID(), model.SessionID("abc"))

	_, err = r.command("/unknown")
	gt.Error(t, err)

	quit, err = r.command("/exit")
	gt.NoError(t, err)
	gt.True(t, quit)

	gt.S(t, buf.String()).Contains("session: abc")
}

func TestREPLRespond(t *testing.T) {
	llm := &adaptertest.LLM{
		ModelName: "flash",
		GenerateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return adaptertest.TextResponse("Hello from the model"), nil
		},
	}
	r, buf := newTestREPL(t, llm)

	gt.NoError(t, r.respond(context.Background(), "hi"))
	gt.S(t, buf.String()).Contains("Hello from the model")

	r.opts.UseTools = true
	_, _ = r.command("/model gemma")
	err := r.respond(context.Background(), "hi")
	gt.True(t, errors.Is(err, model.ErrConfiguration))
}
