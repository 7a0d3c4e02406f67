package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/bizartvisor/pkg/tool"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Provider exposes tools of connected MCP servers to the agent
type Provider struct {
	client *Client
	tools  []*mcpTool
}

type mcpTool struct {
	serverName string
	mcpTool    *mcp.Tool
	funcDecl   *genai.FunctionDeclaration
}

var _ tool.Tool = (*Provider)(nil)

func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

// Flags returns nil; servers come from the config file
func (p *Provider) Flags() []cli.Flag {
	return nil
}

// Init converts announced MCP tools into function declarations. A tool whose
// name was already taken by an earlier server is skipped.
func (p *Provider) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if p.client == nil {
		return false, nil
	}

	p.tools = nil
	seen := make(map[string]string)
	for _, serverName := range p.client.Servers() {
		tools, err := p.client.Tools(serverName)
		if err != nil {
			return false, goerr.Wrap(err, "failed to get tools from server", goerr.V("server", serverName))
		}

		for _, t := range tools {
			if owner, dup := seen[t.Name]; dup {
				logging.From(ctx).Warn("duplicated MCP tool name, skipped",
					"tool", t.Name, "server", serverName, "owner", owner)
				continue
			}

			funcDecl, err := convertToFunctionDeclaration(t)
			if err != nil {
				return false, goerr.Wrap(err, "failed to convert tool",
					goerr.V("server", serverName),
					goerr.V("tool", t.Name))
			}
			seen[t.Name] = serverName
			p.tools = append(p.tools, &mcpTool{
				serverName: serverName,
				mcpTool:    t,
				funcDecl:   funcDecl,
			})
		}
	}

	return len(p.tools) > 0, nil
}

func convertToFunctionDeclaration(t *mcp.Tool) (*genai.FunctionDeclaration, error) {
	funcDecl := &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
	}

	if t.InputSchema != nil {
		// InputSchema is untyped; round trip through JSON
		schemaJSON, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal input schema")
		}

		var jsSchema jsonschema.Schema
		if err := json.Unmarshal(schemaJSON, &jsSchema); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal input schema")
		}

		schema, err := convertJSONSchemaToGenai(&jsSchema)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert input schema")
		}
		// an object without properties is rejected by Gemini
		if schema != nil && !(schema.Type == genai.TypeObject && len(schema.Properties) == 0) {
			funcDecl.Parameters = schema
		}
	}

	return funcDecl, nil
}

func (p *Provider) Spec() *genai.Tool {
	if len(p.tools) == 0 {
		return nil
	}

	funcDecls := make([]*genai.FunctionDeclaration, len(p.tools))
	for i, t := range p.tools {
		funcDecls[i] = t.funcDecl
	}
	return &genai.Tool{FunctionDeclarations: funcDecls}
}

func (p *Provider) Prompt(ctx context.Context) string {
	if len(p.tools) == 0 {
		return ""
	}
	return "You also have access to tools of external MCP (Model Context Protocol) servers. Prefer the knowledge base for questions about ingested documents."
}

// Execute calls the MCP tool. Text contents are joined; other contents are
// returned as JSON. A result flagged as error becomes an error.
func (p *Provider) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	var target *mcpTool
	for _, t := range p.tools {
		if t.funcDecl.Name == fc.Name {
			target = t
			break
		}
	}
	if target == nil {
		return nil, goerr.New("tool not found", goerr.V("name", fc.Name))
	}

	result, err := p.client.CallTool(ctx, target.serverName, target.mcpTool.Name, fc.Args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call MCP tool")
	}

	text, err := resultText(result)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, goerr.New("MCP tool returned error",
			goerr.V("server", target.serverName),
			goerr.V("tool", fc.Name),
			goerr.V("message", text))
	}

	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{"result": text},
	}, nil
}

func resultText(result *mcp.CallToolResult) (string, error) {
	var texts []string
	for _, c := range result.Content {
		text, ok := c.(*mcp.TextContent)
		if !ok {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return "", goerr.Wrap(err, "failed to marshal result")
			}
			return string(data), nil
		}
		texts = append(texts, text.Text)
	}
	return strings.Join(texts, "\n"), nil
}

// Close disconnects all servers
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
