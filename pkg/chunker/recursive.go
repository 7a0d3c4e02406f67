package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/bizartvisor/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// paragraph -> line -> sentence -> word -> character
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type recursiveSplitter struct {
	size    int
	overlap int
}

// SplitRecursiveCharacter splits text into chunks of at most chunkSize
// characters (runes). It prefers the coarsest separator present in the text
// and only falls back to finer ones for pieces that are still too long.
// Adjacent chunks share up to chunkOverlap characters.
func SplitRecursiveCharacter(text string, chunkSize, chunkOverlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, goerr.Wrap(model.ErrConfiguration, "chunk size must be positive", goerr.V("chunk_size", chunkSize))
	}
	if chunkOverlap < 0 || chunkOverlap > chunkSize {
		return nil, goerr.Wrap(model.ErrConfiguration, "chunk overlap must be between 0 and chunk size",
			goerr.V("chunk_size", chunkSize), goerr.V("chunk_overlap", chunkOverlap))
	}

	s := &recursiveSplitter{size: chunkSize, overlap: chunkOverlap}
	chunks := s.split(text, defaultSeparators)

	result := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c) == "" {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (s *recursiveSplitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.size {
			good = append(good, piece)
			continue
		}

		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}

	return final
}

// merge greedily packs pieces into chunks no longer than size, carrying up to
// overlap characters from the tail of one chunk into the next
func (s *recursiveSplitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)

	for _, p := range pieces {
		l := runeLen(p)
		if total+l > s.size && len(current) > 0 {
			if doc := joinPieces(current); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+l > s.size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
	}

	if doc := joinPieces(current); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepSeparator splits text on sep and keeps the separator at the start
// of the following piece. Empty pieces are dropped.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func joinPieces(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
