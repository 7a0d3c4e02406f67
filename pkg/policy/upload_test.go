package policy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/bizartvisor/pkg/policy"
	"github.com/m-mizutani/gt"
)

func TestDefaultUploadPolicy(t *testing.T) {
	ctx := context.Background()
	p, err := policy.NewUpload(ctx, "")
	gt.NoError(t, err)

	testCases := []struct {
		name    string
		file    string
		size    int
		allowed bool
	}{
		{"txt file", "notes.txt", 100, true},
		{"upper case extension", "README.TXT", 100, true},
		{"markdown", "guide.md", 100, true},
		{"pdf", "paper.pdf", 100, false},
		{"no extension", "Makefile", 100, false},
		{"too large", "huge.txt", 11 * 1024 * 1024, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Evaluate(ctx, policy.NewUploadInput(tc.file, tc.size))
			if tc.allowed {
				gt.NoError(t, err)
			} else {
				gt.True(t, errors.Is(err, model.ErrDisallowedFileType))
			}
		})
	}
}

func TestCustomUploadPolicy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "upload.rego"), []byte(`package upload

allow if {
	input.ext == "csv"
	print("csv accepted", input.name)
}
`), 0o644))

	p, err := policy.NewUpload(ctx, dir)
	gt.NoError(t, err)

	gt.NoError(t, p.Evaluate(ctx, policy.NewUploadInput("data.csv", 10)))
	err = p.Evaluate(ctx, policy.NewUploadInput("notes.txt", 10))
	gt.True(t, errors.Is(err, model.ErrDisallowedFileType))
}

func TestInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package upload\nallow if {"), 0o644))

	_, err := policy.NewUpload(context.Background(), dir)
	gt.Error(t, err)
}
