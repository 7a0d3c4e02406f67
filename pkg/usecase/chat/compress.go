package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const (
	compressionRatio = 0.7 // Compress first 70% by byte size
)

// isTokenLimitError checks if the error is due to token limit exceeded
func isTokenLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	// Example: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
	return apiErr.Code == 400 &&
		apiErr.Status == "INVALID_ARGUMENT" &&
		strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (")
}

// contentSize calculates the byte size of a content by JSON marshaling
func contentSize(content *genai.Content) int {
	data, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(data)
}

// compressHistory replaces the oldest 70% (by bytes) of prior turns with a
// summary. The returned slice does not share the backing array of contents.
func compressHistory(ctx context.Context, llm adapter.LLM, contents []*genai.Content) ([]*genai.Content, error) {
	if len(contents) == 0 {
		return nil, goerr.New("history is empty")
	}

	totalBytes := 0
	byteSizes := make([]int, len(contents))
	for i, content := range contents {
		size := contentSize(content)
		byteSizes[i] = size
		totalBytes += size
	}

	compressThreshold := int(float64(totalBytes) * compressionRatio)

	cumulativeBytes := 0
	compressIndex := 0
	for i, size := range byteSizes {
		cumulativeBytes += size
		if cumulativeBytes >= compressThreshold {
			compressIndex = i + 1
			break
		}
	}

	if compressIndex == 0 || compressIndex >= len(contents) {
		return nil, goerr.New("insufficient content to compress")
	}

	summary, err := summarizeContents(ctx, llm, contents[:compressIndex])
	if err != nil {
		return nil, goerr.Wrap(err, "failed to summarize contents")
	}

	newContents := make([]*genai.Content, 0, len(contents)-compressIndex+1)
	newContents = append(newContents, genai.NewContentFromText("=== Previous Conversation Summary ===\n\n"+summary, genai.RoleUser))
	newContents = append(newContents, contents[compressIndex:]...)
	return newContents, nil
}

// summarizeContents generates a summary of the given conversation contents
func summarizeContents(ctx context.Context, llm adapter.LLM, contents []*genai.Content) (string, error) {
	withPrompt := make([]*genai.Content, 0, len(contents)+1)
	withPrompt = append(withPrompt, contents...)
	withPrompt = append(withPrompt, genai.NewContentFromText(summarizePrompt, genai.RoleUser))

	resp, err := llm.GenerateContent(ctx, withPrompt, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("You summarize conversations between a user and an AI assistant.", ""),
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}

	summary := adapter.ResponseText(resp)
	if summary == "" {
		return "", goerr.New("empty summary generated")
	}
	return summary, nil
}
