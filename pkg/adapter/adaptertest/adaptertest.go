// Package adaptertest provides scripted LLM and embedder implementations for
// tests of packages that depend on adapter interfaces.
package adaptertest

import (
	"context"
	"hash/fnv"
	"iter"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// Call is one recorded request to LLM
type Call struct {
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
	Stream   bool
}

// SystemText returns the system instruction text of the call
func (c *Call) SystemText() string {
	if c.Config == nil || c.Config.SystemInstruction == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Config.SystemInstruction.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// LLM is a scripted adapter.LLM. GenerateFunc serves GenerateContent and,
// when StreamFunc is nil, also serves streaming as a single chunk.
type LLM struct {
	ModelName    string
	Tools        bool
	GenerateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	StreamFunc   func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

	mu    sync.Mutex
	calls []*Call
}

func (m *LLM) Name() string {
	if m.ModelName == "" {
		return "mock"
	}
	return m.ModelName
}

func (m *LLM) SupportsTools() bool {
	return m.Tools
}

func (m *LLM) record(contents []*genai.Content, config *genai.GenerateContentConfig, stream bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, &Call{Contents: contents, Config: config, Stream: stream})
}

// Calls returns recorded calls in order
func (m *LLM) Calls() []*Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *LLM) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.record(contents, config, false)
	if m.GenerateFunc == nil {
		return TextResponse(""), nil
	}
	return m.GenerateFunc(ctx, contents, config)
}

func (m *LLM) GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	m.record(contents, config, true)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, contents, config)
	}
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		if m.GenerateFunc == nil {
			yield(TextResponse(""), nil)
			return
		}
		yield(m.GenerateFunc(ctx, contents, config))
	}
}

// TextResponse builds a model response with one text part
func TextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
	}
}

// FunctionCallResponse builds a model response requesting one function call
func FunctionCallResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: name, Args: args}}},
			},
		}},
	}
}

// StreamText yields each chunk as a separate response
func StreamText(chunks ...string) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, c := range chunks {
			if !yield(TextResponse(c), nil) {
				return
			}
		}
	}
}

// Embedder hashes lower-cased words into Dim buckets, so texts sharing words
// are similar
type Embedder struct {
	Dim       int
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	mu    sync.Mutex
	count int
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.count++
	e.mu.Unlock()

	if e.EmbedFunc != nil {
		return e.EmbedFunc(ctx, text)
	}

	dim := e.Dim
	if dim <= 0 {
		dim = 16
	}
	vec := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,:;!?\"'()")))
		vec[h.Sum32()%uint32(dim)]++
	}
	return vec, nil
}

// Count returns the number of Embed calls
func (e *Embedder) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}
