// Package chunker splits raw document text into overlapping fixed-size
// segments, the atomic units of indexing and retrieval. Splitting prefers
// natural boundaries (paragraph, then line, then word) over hard cuts so
// sentences are severed only when a window contains no separator at all.
package chunker

import "strings"

const (
	// DefaultChunkSize is the target chunk length in bytes.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of bytes shared between
	// consecutive chunks.
	DefaultChunkOverlap = 200
)

// separators is the boundary preference order: paragraph break, line
// break, word break. The empty string means "cut anywhere" and guarantees
// progress when a window contains no separator.
var separators = []string{"\n\n", "\n", " ", ""}

// Splitter produces overlapping chunks from raw text. The zero value is
// not usable; construct with New.
type Splitter struct {
	// chunkSize is the target chunk length in bytes.
	chunkSize int

	// chunkOverlap is the number of bytes repeated at the start of each
	// chunk after the first.
	chunkOverlap int
}

// New constructs a Splitter. Non-positive size falls back to
// DefaultChunkSize; a negative overlap falls back to zero; an overlap
// that is not smaller than the size is clamped to size/5 so the window
// always advances.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Splitter{chunkSize: size, chunkOverlap: overlap}
}

// Split returns the ordered sequence of chunks covering text. Consecutive
// chunks share chunkOverlap bytes; the final chunk may be shorter than
// chunkSize. Input no longer than chunkSize yields exactly one chunk equal
// to the input. Empty or all-whitespace input yields nil.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + s.chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		end = s.cut(text, start, end)
		chunks = append(chunks, text[start:end])

		// The next window re-reads the overlap tail of this chunk.
		start = end - s.chunkOverlap
	}

	return chunks
}

// cut returns the end offset for the window [start, limit), preferring the
// latest separator occurrence in priority order. A candidate boundary must
// leave the next window start (end - overlap) strictly past the current
// start, otherwise the split could not advance; candidates that violate
// this are skipped and the next separator in the priority list is tried.
// The final fallback is a hard cut at limit.
func (s *Splitter) cut(text string, start, limit int) int {
	window := text[start:limit]
	for _, sep := range separators {
		if sep == "" {
			break
		}
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		// Keep the separator with the earlier chunk.
		end := start + idx + len(sep)
		if end-s.chunkOverlap > start {
			return end
		}
	}
	return limit
}
