package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

type SplitterKind string

const (
	SplitterRecursiveCharacter SplitterKind = "recursive_character"
	SplitterSemanticChunker    SplitterKind = "semantic_chunker"
	SplitterNone               SplitterKind = "none"
)

const (
	DefaultChunkSize    = 8100
	DefaultChunkOverlap = 0
)

// SplitterKinds lists every accepted splitter name, in display order
func SplitterKinds() []SplitterKind {
	return []SplitterKind{SplitterRecursiveCharacter, SplitterSemanticChunker, SplitterNone}
}

// SplitterConfig is a validated chunking strategy
type SplitterConfig struct {
	Kind           SplitterKind
	ChunkSize      int
	ChunkOverlap   int
	NumberOfChunks int
}

// DefaultSplitter is used when no strategy is specified
func DefaultSplitter() SplitterConfig {
	return SplitterConfig{
		Kind:         SplitterRecursiveCharacter,
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// ParseSplitter converts a splitter name and its loosely typed arguments into
// a SplitterConfig. Unknown names and malformed arguments are rejected here so
// that nothing deeper in the ingest path needs to handle them.
func ParseSplitter(name string, args map[string]any) (SplitterConfig, error) {
	kind := SplitterKind(strings.ToLower(strings.TrimSpace(name)))

	switch kind {
	case "", SplitterNone:
		return DefaultSplitter(), nil

	case SplitterRecursiveCharacter:
		cfg := DefaultSplitter()
		if v, ok := args["chunk_size"]; ok {
			n, err := toInt("chunk_size", v)
			if err != nil {
				return SplitterConfig{}, err
			}
			cfg.ChunkSize = n
		}
		if v, ok := args["chunk_overlap"]; ok {
			n, err := toInt("chunk_overlap", v)
			if err != nil {
				return SplitterConfig{}, err
			}
			cfg.ChunkOverlap = n
		}
		if cfg.ChunkSize <= 0 {
			return SplitterConfig{}, goerr.Wrap(ErrConfiguration, "chunk_size must be positive", goerr.V("chunk_size", cfg.ChunkSize))
		}
		if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap > cfg.ChunkSize {
			return SplitterConfig{}, goerr.Wrap(ErrConfiguration, "chunk_overlap must be between 0 and chunk_size",
				goerr.V("chunk_overlap", cfg.ChunkOverlap), goerr.V("chunk_size", cfg.ChunkSize))
		}
		return cfg, nil

	case SplitterSemanticChunker:
		// semantic chunking is only applied when arguments are given
		if len(args) == 0 {
			return DefaultSplitter(), nil
		}
		cfg := SplitterConfig{Kind: SplitterSemanticChunker}
		if v, ok := args["number_of_chunks"]; ok {
			n, err := toInt("number_of_chunks", v)
			if err != nil {
				return SplitterConfig{}, err
			}
			if n < 0 {
				return SplitterConfig{}, goerr.Wrap(ErrConfiguration, "number_of_chunks must not be negative", goerr.V("number_of_chunks", n))
			}
			cfg.NumberOfChunks = n
		}
		return cfg, nil

	default:
		return SplitterConfig{}, goerr.Wrap(ErrConfiguration, "invalid splitter specified", goerr.V("splitter", name))
	}
}

// ParseSplitterJSON is ParseSplitter for arguments given as a raw JSON object
func ParseSplitterJSON(name, rawArgs string) (SplitterConfig, error) {
	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return SplitterConfig{}, goerr.Wrap(ErrConfiguration, "invalid splitter_args format, must be a valid JSON object",
				goerr.V("cause", err.Error()))
		}
	}
	return ParseSplitter(name, args)
}

func toInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, goerr.Wrap(ErrConfiguration, "splitter argument must be an integer", goerr.V(key, v))
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, goerr.Wrap(ErrConfiguration, "splitter argument must be an integer", goerr.V(key, v))
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, goerr.Wrap(ErrConfiguration, "splitter argument must be an integer", goerr.V(key, v))
		}
		return i, nil
	default:
		return 0, goerr.Wrap(ErrConfiguration, "splitter argument has unsupported type", goerr.V(key, v))
	}
}
