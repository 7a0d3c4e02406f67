package adapter_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/bizartvisor/pkg/adapter"
	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestModelsLookup(t *testing.T) {
	client := &adapter.GeminiClient{}
	models, err := client.BuildModels(adapter.DefaultModelEntries(), "")
	gt.NoError(t, err)

	names := models.Names()
	gt.A(t, names).Length(4)
	gt.Equal(t, models.Default(), names[0])

	llm, err := models.Get("Gemma 3 27B")
	gt.NoError(t, err)
	gt.False(t, llm.SupportsTools())
	gt.Equal(t, llm.Name(), "gemma-3-27b-it")

	_, err = models.Get("no such model")
	gt.True(t, errors.Is(err, model.ErrConfiguration))

	// returned slice is a copy
	names[0] = "mutated"
	gt.NotEqual(t, models.Names()[0], "mutated")
}

func TestModelsValidation(t *testing.T) {
	client := &adapter.GeminiClient{}

	_, err := client.BuildModels([]adapter.ModelEntry{
		{Name: "a", Model: "m1"},
		{Name: "a", Model: "m2"},
	}, "")
	gt.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = client.BuildModels([]adapter.ModelEntry{{Name: "a", Model: "m1"}}, "b")
	gt.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = client.BuildModels(nil, "")
	gt.True(t, errors.Is(err, model.ErrConfiguration))

	_, err = client.BuildModels([]adapter.ModelEntry{{Name: "a"}}, "")
	gt.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestLoadModelEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`
default: Pro
models:
  - name: Flash
    model: gemini-2.5-flash
    tools: true
  - name: Pro
    model: gemini-2.5-pro
    tools: true
`), 0o600))

	entries, def, err := adapter.LoadModelEntries(path)
	gt.NoError(t, err)
	gt.A(t, entries).Length(2)
	gt.Equal(t, def, "Pro")
	gt.Equal(t, entries[1].Model, "gemini-2.5-pro")
	gt.True(t, entries[0].Tools)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	gt.NoError(t, os.WriteFile(empty, []byte("models: []\n"), 0o600))
	_, _, err = adapter.LoadModelEntries(empty)
	gt.True(t, errors.Is(err, model.ErrConfiguration))
}
