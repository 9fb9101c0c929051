package ingestion

import (
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 300
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into overlapping windows, preferring the coarsest
// separator that keeps pieces under the window size. Sizes are in runes.
type Splitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return Splitter{ChunkSize: size, Overlap: overlap, Separators: defaultSeparators}
}

// Split returns the chunks of text in order. Every chunk is a substring of
// text with surrounding whitespace trimmed; whitespace-only input yields no
// chunks.
func (s Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = defaultSeparators
	}
	// Separators stay at the head of the following piece so every chunk
	// remains a substring of text.
	rc := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.ChunkSize),
		textsplitter.WithChunkOverlap(s.Overlap),
		textsplitter.WithSeparators(seps),
		textsplitter.WithKeepSeparator(true),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	pieces, err := rc.SplitText(text)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
