package adapter

import (
	"os"
	"slices"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// ModelEntry maps a user-facing model name onto a backend model
type ModelEntry struct {
	Name  string `yaml:"name"`
	Model string `yaml:"model"`
	Tools bool   `yaml:"tools"`
}

type modelsFile struct {
	Default string       `yaml:"default"`
	Models  []ModelEntry `yaml:"models"`
}

// DefaultModelEntries is used when no models file is configured
func DefaultModelEntries() []ModelEntry {
	return []ModelEntry{
		{Name: "Gemini 2.5 Flash", Model: "gemini-2.5-flash", Tools: true},
		{Name: "Gemini 2.5 Pro", Model: "gemini-2.5-pro", Tools: true},
		{Name: "Gemini 2.5 Flash Lite", Model: "gemini-2.5-flash-lite", Tools: true},
		{Name: "Gemma 3 27B", Model: "gemma-3-27b-it", Tools: false},
	}
}

// LoadModelEntries reads a YAML models file. The first entry is the default
// unless the file names one.
func LoadModelEntries(path string) ([]ModelEntry, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to read models file", goerr.V("path", path))
	}

	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, "", goerr.Wrap(err, "failed to parse models file", goerr.V("path", path))
	}
	if len(f.Models) == 0 {
		return nil, "", goerr.Wrap(model.ErrConfiguration, "no models defined", goerr.V("path", path))
	}

	return f.Models, f.Default, nil
}

// BuildModels creates one LLM per entry sharing the client
func (g *GeminiClient) BuildModels(entries []ModelEntry, defaultName string) (*Models, error) {
	llms := make([]LLM, 0, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" || e.Model == "" {
			return nil, goerr.Wrap(model.ErrConfiguration, "model entry requires name and model", goerr.V("entry", e))
		}
		llms = append(llms, g.Model(e.Model, e.Tools))
		names = append(names, e.Name)
	}
	return NewModels(names, llms, defaultName)
}

// Models is the immutable name -> LLM lookup built once at startup
type Models struct {
	byName      map[string]LLM
	names       []string
	defaultName string
}

// NewModels pairs names with llms. An empty defaultName selects the first.
func NewModels(names []string, llms []LLM, defaultName string) (*Models, error) {
	if len(names) != len(llms) {
		return nil, goerr.New("names and models length mismatch")
	}
	if len(names) == 0 {
		return nil, goerr.Wrap(model.ErrConfiguration, "at least one model is required")
	}

	m := &Models{
		byName: make(map[string]LLM, len(names)),
		names:  slices.Clone(names),
	}
	for i, name := range names {
		if _, dup := m.byName[name]; dup {
			return nil, goerr.Wrap(model.ErrConfiguration, "duplicated model name", goerr.V("name", name))
		}
		m.byName[name] = llms[i]
	}

	m.defaultName = names[0]
	if defaultName != "" {
		if _, ok := m.byName[defaultName]; !ok {
			return nil, goerr.Wrap(model.ErrConfiguration, "default model is not defined", goerr.V("name", defaultName))
		}
		m.defaultName = defaultName
	}

	return m, nil
}

// Get looks up a model by its user-facing name
func (m *Models) Get(name string) (LLM, error) {
	llm, ok := m.byName[name]
	if !ok {
		return nil, goerr.Wrap(model.ErrConfiguration, "unknown model", goerr.V("name", name), goerr.V("available", m.names))
	}
	return llm, nil
}

// Names returns model names in configuration order
func (m *Models) Names() []string {
	return slices.Clone(m.names)
}

func (m *Models) Default() string {
	return m.defaultName
}
