package tool

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

var errToolNotFound = goerr.New("tool not found")

// Registry manages available tools for the LLM
type Registry struct {
	allTools []Tool
	enabled  []Tool
	tools    map[string]Tool
}

// New creates a new tool registry with the given tools. Tools are not
// offered to the model until Init enables them.
func New(tools ...Tool) *Registry {
	return &Registry{
		allTools: tools,
		tools:    make(map[string]Tool),
	}
}

// Init initializes every tool and indexes the function names of enabled ones
func (r *Registry) Init(ctx context.Context, client *Client) error {
	r.enabled = nil
	r.tools = make(map[string]Tool)

	for _, t := range r.allTools {
		ok, err := t.Init(ctx, client)
		if err != nil {
			return goerr.Wrap(err, "failed to initialize tool")
		}
		if !ok {
			continue
		}

		spec := t.Spec()
		if spec == nil || len(spec.FunctionDeclarations) == 0 {
			continue
		}
		for _, fd := range spec.FunctionDeclarations {
			if _, dup := r.tools[fd.Name]; dup {
				return goerr.New("duplicated tool function name", goerr.V("name", fd.Name))
			}
			r.tools[fd.Name] = t
		}
		r.enabled = append(r.enabled, t)
	}

	return nil
}

// Specs returns specifications of enabled tools in registration order
func (r *Registry) Specs() []*genai.Tool {
	specs := make([]*genai.Tool, 0, len(r.enabled))
	for _, t := range r.enabled {
		specs = append(specs, t.Spec())
	}
	return specs
}

// EnabledTools returns function names available to the model
func (r *Registry) EnabledTools() []string {
	var names []string
	for _, t := range r.enabled {
		for _, fd := range t.Spec().FunctionDeclarations {
			names = append(names, fd.Name)
		}
	}
	return names
}

// Prompts returns prompts of enabled tools concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, t := range r.enabled {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Flags returns all tool flags combined
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, t := range r.allTools {
		if toolFlags := t.Flags(); toolFlags != nil {
			flags = append(flags, toolFlags...)
		}
	}
	return flags
}

// Execute runs the tool with the given function call
func (r *Registry) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	tool, ok := r.tools[fc.Name]
	if !ok {
		return nil, goerr.Wrap(errToolNotFound, "tool not found", goerr.V("name", fc.Name))
	}

	return tool.Execute(ctx, fc)
}
