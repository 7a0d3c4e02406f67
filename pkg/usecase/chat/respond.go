package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const maxIterations = 8

// responder produces one answer. It is owned by the producer goroutine.
type responder struct {
	svc     *Service
	llm     adapter.LLM
	stream  *Stream
	history []*model.Turn
	input   string
	opts    RespondOptions

	emitted bool
}

func (r *responder) respond(ctx context.Context) (string, error) {
	history := toContents(r.history)

	var docs string
	if r.opts.UseRAG {
		docs = formatContext(r.retrieve(ctx, history))
	}

	cfg, err := r.config(ctx, docs)
	if err != nil {
		return "", err
	}

	answer, err := r.answer(ctx, history, cfg)
	if isTokenLimitError(err) && !r.emitted && len(history) > 1 {
		logging.From(ctx).Warn("conversation exceeds token limit, compressing history", "turns", len(history))
		compressed, cerr := compressHistory(ctx, r.llm, history)
		if cerr != nil {
			return "", goerr.Wrap(cerr, "failed to compress history")
		}
		answer, err = r.answer(ctx, compressed, cfg)
	}
	return answer, err
}

func (r *responder) config(ctx context.Context, docs string) (*genai.GenerateContentConfig, error) {
	var instruction string
	switch {
	case r.opts.UseTools:
		prompt, err := renderToolsPrompt(r.svc.registry.Prompts(ctx), docs)
		if err != nil {
			return nil, err
		}
		instruction = prompt
	case r.opts.UseRAG:
		prompt, err := renderQAPrompt(docs)
		if err != nil {
			return nil, err
		}
		instruction = prompt
	default:
		instruction = systemPrompt
	}

	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, ""),
	}, nil
}

// retrieve returns chunks relevant to the input. With prior turns the input is
// first rewritten into a standalone question.
func (r *responder) retrieve(ctx context.Context, history []*genai.Content) []*model.ScoredChunk {
	if r.svc.retriever == nil {
		return nil
	}
	query := r.input
	if len(history) > 0 {
		query = r.contextualize(ctx, history)
	}
	return r.svc.retriever.Retrieve(ctx, query, r.svc.topK)
}

func (r *responder) contextualize(ctx context.Context, history []*genai.Content) string {
	contents := append(append([]*genai.Content{}, history...), genai.NewContentFromText(r.input, genai.RoleUser))
	resp, err := r.llm.GenerateContent(ctx, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(contextualizePrompt, ""),
	})
	if err != nil {
		logging.From(ctx).Warn("failed to contextualize question, using raw input", "error", err)
		return r.input
	}
	query := strings.TrimSpace(adapter.ResponseText(resp))
	if query == "" {
		return r.input
	}
	logging.From(ctx).Debug("contextualized question", "query", query)
	return query
}

func (r *responder) answer(ctx context.Context, history []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	contents = append(contents, history...)
	contents = append(contents, genai.NewContentFromText(r.input, genai.RoleUser))

	if r.opts.UseTools {
		return r.agentLoop(ctx, contents, cfg)
	}
	return r.streamAnswer(ctx, contents, cfg)
}

func (r *responder) streamAnswer(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	var b strings.Builder
	for resp, err := range r.llm.GenerateContentStream(ctx, contents, cfg) {
		if err != nil {
			return "", goerr.Wrap(err, "failed to generate content")
		}
		text := adapter.ResponseText(resp)
		if text == "" {
			continue
		}
		if err := r.emitToken(ctx, text); err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// agentLoop lets the model call tools until it answers without a call. After
// maxIterations the model is asked once more without tools.
func (r *responder) agentLoop(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	toolCfg := *cfg
	toolCfg.Tools = r.svc.registry.Specs()

	for i := 0; i < maxIterations; i++ {
		var (
			parts []*genai.Part
			calls []*genai.FunctionCall
			text  strings.Builder
		)
		for resp, err := range r.llm.GenerateContentStream(ctx, contents, &toolCfg) {
			if err != nil {
				return "", goerr.Wrap(err, "failed to generate content", goerr.V("iteration", i))
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				parts = append(parts, part)
				switch {
				case part.FunctionCall != nil:
					calls = append(calls, part.FunctionCall)
				case part.Text != "" && !part.Thought:
					text.WriteString(part.Text)
				}
			}
		}

		if len(calls) == 0 {
			answer := text.String()
			if answer != "" {
				if err := r.emitToken(ctx, answer); err != nil {
					return "", err
				}
			}
			return answer, nil
		}

		contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})

		responses := make([]*genai.Part, 0, len(calls))
		for _, fc := range calls {
			if err := r.stream.emit(ctx, &Event{Type: EventProgress, Text: fmt.Sprintf("working: %s...", fc.Name)}); err != nil {
				return "", err
			}
			responses = append(responses, &genai.Part{FunctionResponse: r.execute(ctx, fc)})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: responses})
	}

	logging.From(ctx).Warn("tool iterations exhausted, requesting final answer", "max", maxIterations)
	return r.streamAnswer(ctx, contents, cfg)
}

// execute runs one function call. Failures are reported to the model instead
// of ending the response.
func (r *responder) execute(ctx context.Context, fc *genai.FunctionCall) *genai.FunctionResponse {
	logger := logging.From(ctx).With("tool", fc.Name)
	logger.Info("executing tool", "args", fc.Args)

	resp, err := r.svc.registry.Execute(ctx, *fc)
	if err != nil {
		logger.Warn("tool execution failed", "error", err)
		return &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: map[string]any{"error": err.Error()},
		}
	}
	if resp == nil {
		resp = &genai.FunctionResponse{Response: map[string]any{}}
	}
	resp.ID = fc.ID
	resp.Name = fc.Name
	return resp
}

func (r *responder) emitToken(ctx context.Context, text string) error {
	r.emitted = true
	return r.stream.emit(ctx, &Event{Type: EventToken, Text: text})
}
