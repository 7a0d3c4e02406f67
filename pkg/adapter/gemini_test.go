package adapter_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

func newTestGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}
	client, err := adapter.NewGemini(context.Background(), projectID, "us-central1")
	gt.NoError(t, err)
	return client
}

func TestGenerateContent(t *testing.T) {
	client := newTestGemini(t)
	llm := client.Model("gemini-2.5-flash", true)

	resp, err := llm.GenerateContent(t.Context(), []*genai.Content{
		genai.NewContentFromText("Hello, what is the capital of France?", genai.RoleUser),
	}, nil)
	gt.NoError(t, err)
	gt.S(t, adapter.ResponseText(resp)).Contains("Paris")
}

func TestGenerateContentStream(t *testing.T) {
	client := newTestGemini(t)
	llm := client.Model("gemini-2.5-flash", true)

	var text string
	for resp, err := range llm.GenerateContentStream(t.Context(), []*genai.Content{
		genai.NewContentFromText("Count from 1 to 5 separated by spaces.", genai.RoleUser),
	}, nil) {
		gt.NoError(t, err)
		text += adapter.ResponseText(resp)
	}
	gt.S(t, text).Contains("3")
}

func TestEmbed(t *testing.T) {
	client := newTestGemini(t)
	vec, err := client.Embed(t.Context(), "vector search")
	gt.NoError(t, err)
	gt.A(t, vec).Length(client.Dimension())
}

func TestToolsRejectedWithoutCapability(t *testing.T) {
	// No network access happens before the capability check.
	client := &adapter.GeminiClient{}
	llm := client.Model("gemma-3-27b-it", false)
	gt.False(t, llm.SupportsTools())

	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{Name: "noop"}}}},
	}

	_, err := llm.GenerateContent(t.Context(), nil, config)
	gt.True(t, errors.Is(err, model.ErrConfiguration))

	for _, err := range llm.GenerateContentStream(t.Context(), nil, config) {
		gt.True(t, errors.Is(err, model.ErrConfiguration))
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Hello, "},
				{Text: "world"},
			}},
		}},
	}
	gt.Equal(t, adapter.ResponseText(resp), "Hello, world")
	gt.Equal(t, adapter.ResponseText(nil), "")
}
