package chat

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	//go:embed prompt/system.md
	systemPrompt string

	//go:embed prompt/contextualize.md
	contextualizePrompt string

	//go:embed prompt/summarize.md
	summarizePrompt string

	//go:embed prompt/qa.md
	qaPromptRaw string

	//go:embed prompt/tools.md
	toolsPromptRaw string
)

var (
	qaPromptTmpl    = template.Must(template.New("qa").Parse(qaPromptRaw))
	toolsPromptTmpl = template.Must(template.New("tools").Parse(toolsPromptRaw))
)

const contextSeparator = "\n\n----------------\n\n"

// formatContext renders retrieved chunks as dated, sourced passages
func formatContext(chunks []*model.ScoredChunk) string {
	docs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		date := "Unknown date"
		if !c.CreatedAt.IsZero() {
			date = c.CreatedAt.Format(time.DateOnly)
		}
		source := c.SourceID
		if source == "" {
			source = "Unknown source"
		}
		docs = append(docs, fmt.Sprintf("Date: %s\nSource: %s\n\n%s", date, source, c.Text))
	}
	return strings.Join(docs, contextSeparator)
}

func renderQAPrompt(context string) (string, error) {
	var buf bytes.Buffer
	if err := qaPromptTmpl.Execute(&buf, map[string]string{"Context": context}); err != nil {
		return "", goerr.Wrap(err, "failed to render QA prompt")
	}
	return buf.String(), nil
}

func renderToolsPrompt(toolPrompts, context string) (string, error) {
	var buf bytes.Buffer
	if err := toolsPromptTmpl.Execute(&buf, map[string]string{
		"ToolPrompts": toolPrompts,
		"Context":     context,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render tools prompt")
	}
	return systemPrompt + "\n" + buf.String(), nil
}
