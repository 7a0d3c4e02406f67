package adapter

import (
	"context"
	"iter"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// LLM is the capability interface of a language model backend. Tool use is
// requested by setting config.Tools; backends without function calling
// reject such requests with model.ErrConfiguration.
type LLM interface {
	Name() string
	SupportsTools() bool
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Embedder converts text into a fixed-dimensional vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeminiClient owns the genai client shared by every configured model and
// serves embeddings
type GeminiClient struct {
	client         *genai.Client
	embeddingModel string
	dimension      int32
}

type geminiConfig struct {
	apiKey         string
	embeddingModel string
	dimension      int32
}

type GeminiOption func(*geminiConfig)

// WithEmbeddingModel overrides the embedding model name
func WithEmbeddingModel(name string) GeminiOption {
	return func(c *geminiConfig) {
		c.embeddingModel = name
	}
}

// WithEmbeddingDimension sets the requested output dimensionality
func WithEmbeddingDimension(dim int) GeminiOption {
	return func(c *geminiConfig) {
		c.dimension = int32(dim)
	}
}

// WithAPIKey switches from Vertex AI to the Gemini API backend
func WithAPIKey(key string) GeminiOption {
	return func(c *geminiConfig) {
		c.apiKey = key
	}
}

// NewGemini creates a client. Vertex AI is used unless WithAPIKey is given.
func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	cfg := &geminiConfig{
		embeddingModel: "gemini-embedding-001",
		dimension:      model.DefaultDimension,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	clientConfig := &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}
	if cfg.apiKey != "" {
		clientConfig = &genai.ClientConfig{
			APIKey:  cfg.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	return &GeminiClient{
		client:         client,
		embeddingModel: cfg.embeddingModel,
		dimension:      cfg.dimension,
	}, nil
}

// Dimension returns the embedding dimensionality
func (g *GeminiClient) Dimension() int {
	return int(g.dimension)
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &g.dimension,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("empty embedding returned", goerr.V("model", g.embeddingModel))
	}

	return resp.Embeddings[0].Values, nil
}

// Model binds a generative model name to the shared client
func (g *GeminiClient) Model(name string, supportsTools bool) *GeminiModel {
	return &GeminiModel{
		client: g.client,
		name:   name,
		tools:  supportsTools,
	}
}

// GeminiModel is one generative model served through genai
type GeminiModel struct {
	client *genai.Client
	name   string
	tools  bool
}

func (m *GeminiModel) Name() string {
	return m.name
}

func (m *GeminiModel) SupportsTools() bool {
	return m.tools
}

func (m *GeminiModel) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if err := m.checkTools(config); err != nil {
		return nil, err
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.name, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", m.name))
	}
	return resp, nil
}

func (m *GeminiModel) GenerateContentStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	if err := m.checkTools(config); err != nil {
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			yield(nil, err)
		}
	}

	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.name, contents, config) {
			if err != nil {
				yield(nil, goerr.Wrap(err, "failed to stream content", goerr.V("model", m.name)))
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

func (m *GeminiModel) checkTools(config *genai.GenerateContentConfig) error {
	if config != nil && len(config.Tools) > 0 && !m.tools {
		return goerr.Wrap(model.ErrConfiguration, "model does not support function calling", goerr.V("model", m.name))
	}
	return nil
}

// ResponseText concatenates the text parts of the first candidate
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			text += part.Text
		}
	}
	return text
}
