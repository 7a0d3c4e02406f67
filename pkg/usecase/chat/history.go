package chat

import (
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"google.golang.org/genai"
)

// toContents converts stored turns into model conversation contents
func toContents(turns []*model.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	return contents
}
