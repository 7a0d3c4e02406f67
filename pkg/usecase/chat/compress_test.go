package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/bizartvisor/pkg/adapter/adaptertest"
	"github.com/m-mizutani/bizartvisor/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

func overflowError() error {
	return genai.APIError{
		Code:    400,
		Status:  "INVALID_ARGUMENT",
		Message: "The input token count (1203344) exceeds the maximum number of tokens allowed (1048576).",
	}
}

// manualConversation is a chat about an ingested product manual
func manualConversation() []*genai.Content {
	return []*genai.Content{
		genai.NewContentFromText("Which ports does the gateway listen on according to install.md?", genai.RoleUser),
		genai.NewContentFromText("The gateway listens on 8080 for HTTP and 8443 for TLS.", genai.RoleModel),
		genai.NewContentFromText("And how is the TLS certificate configured?", genai.RoleUser),
		genai.NewContentFromText("Set tls.cert_file and tls.key_file in gateway.yaml.", genai.RoleModel),
		genai.NewContentFromText("Does the FAQ mention certificate rotation?", genai.RoleUser),
		genai.NewContentFromText("Yes, certificates are reloaded on SIGHUP.", genai.RoleModel),
	}
}

func TestIsTokenLimitError(t *testing.T) {
	t.Run("input token overflow", func(t *testing.T) {
		gt.True(t, chat.IsTokenLimitErrorForTest(overflowError()))
	})

	t.Run("overflow wrapped by adapter", func(t *testing.T) {
		gt.True(t, chat.IsTokenLimitErrorForTest(goerr.Wrap(overflowError(), "failed to stream content")))
	})

	t.Run("other invalid argument", func(t *testing.T) {
		err := genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "function declaration name is invalid"}
		gt.False(t, chat.IsTokenLimitErrorForTest(err))
	})

	t.Run("quota exhausted", func(t *testing.T) {
		err := genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded"}
		gt.False(t, chat.IsTokenLimitErrorForTest(err))
	})

	t.Run("not an API error", func(t *testing.T) {
		gt.False(t, chat.IsTokenLimitErrorForTest(errors.New("connection reset by peer")))
		gt.False(t, chat.IsTokenLimitErrorForTest(nil))
	})
}

func TestCompressHistorySummarizesOlderTurns(t *testing.T) {
	contents := manualConversation()
	llm := &adaptertest.LLM{
		GenerateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return adaptertest.TextResponse("The user asked about gateway ports and TLS setup from install.md."), nil
		},
	}

	compressed, err := chat.CompressHistoryForTest(context.Background(), llm, contents)
	gt.NoError(t, err)
	gt.A(t, contents).Length(6)
	gt.True(t, len(compressed) < len(contents))

	head := compressed[0]
	gt.Equal(t, head.Role, genai.RoleUser)
	gt.S(t, head.Parts[0].Text).Contains("Previous Conversation Summary")
	gt.S(t, head.Parts[0].Text).Contains("gateway ports")
	gt.Equal(t, compressed[len(compressed)-1], contents[len(contents)-1])

	calls := llm.Calls()
	gt.A(t, calls).Length(1)
	sent := calls[0].Contents
	summarized := len(sent) - 1
	gt.Equal(t, summarized+len(compressed)-1, len(contents))
	gt.Equal(t, sent[0], contents[0])
	gt.S(t, sent[len(sent)-1].Parts[0].Text).Contains("Summarize the conversation")
}

func TestCompressHistoryFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no prior turns", func(t *testing.T) {
		_, err := chat.CompressHistoryForTest(ctx, &adaptertest.LLM{}, nil)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("history is empty")
	})

	t.Run("single turn", func(t *testing.T) {
		contents := []*genai.Content{genai.NewContentFromText("What is in install.md?", genai.RoleUser)}
		_, err := chat.CompressHistoryForTest(ctx, &adaptertest.LLM{}, contents)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("insufficient content")
	})

	t.Run("summarizer unavailable", func(t *testing.T) {
		llm := &adaptertest.LLM{
			GenerateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return nil, errors.New("503 service unavailable")
			},
		}
		_, err := chat.CompressHistoryForTest(ctx, llm, manualConversation())
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("failed to summarize")
	})

	t.Run("empty summary", func(t *testing.T) {
		llm := &adaptertest.LLM{
			GenerateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return adaptertest.TextResponse(""), nil
			},
		}
		_, err := chat.CompressHistoryForTest(ctx, llm, manualConversation())
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("empty summary")
	})
}
