package policy

import (
	"context"
	_ "embed"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

//go:embed default.rego
var defaultUploadPolicy string

// printHook forwards Rego print() output to the context logger
type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// UploadInput is the document evaluated as `input` by upload policies
type UploadInput struct {
	Name string `json:"name"`
	Ext  string `json:"ext"`
	Size int    `json:"size"`
}

// NewUploadInput derives the policy input from a file name and its size
func NewUploadInput(name string, size int) UploadInput {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return UploadInput{Name: name, Ext: ext, Size: size}
}

// Upload decides whether an uploaded file may be ingested. Policies live in
// package `upload` and define `allow` (bool) and optionally `deny` (set of
// reasons).
type Upload struct {
	query *rego.PreparedEvalQuery
}

// NewUpload loads policies from policyDir, falling back to the embedded
// default (.txt and .md up to 10 MiB) when policyDir is empty or has no
// .rego files
func NewUpload(ctx context.Context, policyDir string) (*Upload, error) {
	var modules []func(*rego.Rego)
	if policyDir != "" {
		loaded, err := loadModules(policyDir)
		if err != nil {
			return nil, err
		}
		modules = loaded
	}
	if len(modules) == 0 {
		modules = []func(*rego.Rego){rego.Module("default.rego", defaultUploadPolicy)}
	}

	query, err := prepareQuery(ctx, modules, "data.upload")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare upload policy")
	}
	return &Upload{query: query}, nil
}

// Evaluate returns model.ErrDisallowedFileType when the policy rejects the file
func (u *Upload) Evaluate(ctx context.Context, input UploadInput) error {
	rs, err := u.query.Eval(ctx,
		rego.EvalInput(map[string]any{"name": input.Name, "ext": input.Ext, "size": input.Size}),
		rego.EvalPrintHook(&printHook{ctx: ctx}),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate upload policy", goerr.V("name", input.Name))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return goerr.Wrap(model.ErrDisallowedFileType, "upload policy returned no decision", goerr.V("name", input.Name))
	}
	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return goerr.New("unexpected upload policy result", goerr.V("value", rs[0].Expressions[0].Value))
	}

	var reasons []string
	if deny, ok := data["deny"].([]any); ok {
		for _, r := range deny {
			if s, ok := r.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}

	if allow, _ := data["allow"].(bool); !allow || len(reasons) > 0 {
		return goerr.Wrap(model.ErrDisallowedFileType, "upload rejected by policy",
			goerr.V("name", input.Name), goerr.V("ext", input.Ext), goerr.V("reasons", reasons))
	}
	return nil
}
