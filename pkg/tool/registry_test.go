package tool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/bizartvisor/pkg/tool"
	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

type stubTool struct {
	name    string
	enabled bool
	initErr error
}

func (s *stubTool) Spec() *genai.Tool {
	return &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{{Name: s.name}}}
}

func (s *stubTool) Init(ctx context.Context, client *tool.Client) (bool, error) {
	return s.enabled, s.initErr
}

func (s *stubTool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	return &genai.FunctionResponse{Name: fc.Name, Response: map[string]any{"result": s.name}}, nil
}

func (s *stubTool) Prompt(ctx context.Context) string {
	return "use " + s.name
}

func (s *stubTool) Flags() []cli.Flag {
	return []cli.Flag{&cli.StringFlag{Name: s.name + "-key"}}
}

func TestRegistryEnablesOnlyInitializedTools(t *testing.T) {
	ctx := context.Background()
	r := tool.New(
		&stubTool{name: "alpha", enabled: true},
		&stubTool{name: "beta", enabled: false},
		&stubTool{name: "gamma", enabled: true},
	)
	gt.A(t, r.Flags()).Length(3)

	gt.NoError(t, r.Init(ctx, &tool.Client{}))
	gt.Equal(t, r.EnabledTools(), []string{"alpha", "gamma"})
	gt.A(t, r.Specs()).Length(2)
	gt.Equal(t, r.Prompts(ctx), "use alpha\n\nuse gamma")

	resp, err := r.Execute(ctx, genai.FunctionCall{Name: "gamma"})
	gt.NoError(t, err)
	gt.Equal(t, resp.Response["result"], "gamma")

	_, err = r.Execute(ctx, genai.FunctionCall{Name: "beta"})
	gt.Error(t, err)
}

func TestRegistryInitErrors(t *testing.T) {
	ctx := context.Background()

	r := tool.New(&stubTool{name: "alpha", initErr: errors.New("boom")})
	gt.Error(t, r.Init(ctx, &tool.Client{}))

	dup := tool.New(&stubTool{name: "same", enabled: true}, &stubTool{name: "same", enabled: true})
	gt.Error(t, dup.Init(ctx, &tool.Client{}))
}
