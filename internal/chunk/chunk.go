// Package chunk splits document text into bounded, overlapping pieces for
// embedding and retrieval.
//
// The splitter descends through a separator hierarchy (paragraphs, lines,
// words, characters): text is split on the coarsest separator present,
// oversized fragments are split again with the next separator, and small
// fragments are merged back into windows of at most ChunkSize characters
// with roughly ChunkOverlap characters shared between consecutive windows.
package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Default windowing parameters, matching the pipeline the stored documents
// were indexed with.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// ErrInvalidParams indicates chunk size/overlap are out of range.
var ErrInvalidParams = errors.New("invalid chunking parameters")

// defaultSeparators is the descent order: paragraph, line, word, character.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Piece is one window of a source text.
type Piece struct {
	// Text is the window content, whitespace-trimmed.
	Text string

	// StartIndex is the byte offset of Text within the source, or -1 if
	// the trimmed text could not be located (should not happen in
	// practice).
	StartIndex int
}

// Splitter splits text into overlapping windows. The zero value is not
// usable; construct with New.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New creates a Splitter. Overlap must be smaller than size so every
// window makes forward progress.
func New(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: chunk size must be >= 1, got %d", ErrInvalidParams, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, size), got %d (size=%d)",
			ErrInvalidParams, chunkOverlap, chunkSize)
	}

	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}, nil
}

// Normalize collapses newlines to spaces and trims surrounding whitespace.
// Applied to chunk text before embedding so line breaks do not perturb the
// embedding model.
func Normalize(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
}

// Split splits text into pieces of at most the configured chunk size, with
// consecutive pieces overlapping by roughly the configured overlap. Empty
// or whitespace-only input yields no pieces.
func (s *Splitter) Split(text string) []Piece {
	chunks := s.split(text, s.separators)

	// Locate each chunk in the source. Chunks are emitted in order, so a
	// forward-moving search start keeps repeated content attributed to
	// distinct offsets.
	pieces := make([]Piece, 0, len(chunks))
	searchFrom := 0
	for _, c := range chunks {
		start := -1
		if idx := strings.Index(text[searchFrom:], c); idx >= 0 {
			start = searchFrom + idx
			searchFrom = start + 1
		}
		pieces = append(pieces, Piece{Text: c, StartIndex: start})
	}
	return pieces
}

// split recursively splits text with the given separator hierarchy.
func (s *Splitter) split(text string, separators []string) []string {
	// Pick the coarsest separator that occurs in the text; "" always
	// matches as the last resort.
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var final []string
	var good []string
	for _, fragment := range fragments(text, separator) {
		if utf8.RuneCountInString(fragment) < s.chunkSize {
			good = append(good, fragment)
			continue
		}

		// Oversized fragment: flush accumulated small fragments, then
		// split it again with finer separators.
		if len(good) > 0 {
			final = append(final, s.merge(good, separator)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, fragment)
		} else {
			final = append(final, s.split(fragment, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good, separator)...)
	}
	return final
}

// fragments splits text on separator. The empty separator splits into
// single characters, which merge() reassembles into fixed-size windows.
func fragments(text, separator string) []string {
	if separator == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, separator)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// merge packs small fragments into windows of at most chunkSize characters,
// carrying chunkOverlap characters of trailing fragments into the next
// window.
func (s *Splitter) merge(splits []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)

	var docs []string
	var current []string
	total := 0

	join := func() {
		doc := strings.TrimSpace(strings.Join(current, separator))
		if doc != "" {
			docs = append(docs, doc)
		}
	}

	for _, d := range splits {
		dLen := utf8.RuneCountInString(d)
		extra := 0
		if len(current) > 0 {
			extra = sepLen
		}

		if total+dLen+extra > s.chunkSize && len(current) > 0 {
			join()

			// Drop leading fragments until the retained tail fits the
			// overlap budget and the new fragment fits the window.
			for total > s.chunkOverlap ||
				(total+dLen+extra > s.chunkSize && total > 0) {
				drop := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}

		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, d)
		total += dLen
	}

	join()
	return docs
}
