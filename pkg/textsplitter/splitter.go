// Package textsplitter segments extracted text into overlapping chunks with
// sentence-aware boundaries. Sizes are expressed in approximate tokens; the
// approximation is deterministic (1 token ≈ 4 characters) so re-chunking the
// same text always yields the same chunks.
package textsplitter

import (
	"strings"
	"unicode/utf8"
)

// charsPerToken is the deterministic token approximation.
const charsPerToken = 4

type Config struct {
	// ChunkSize is the target chunk length in approximate tokens.
	ChunkSize int
	// ChunkOverlap is how many approximate tokens each chunk repeats from
	// the end of its predecessor.
	ChunkOverlap int
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:    512,
		ChunkOverlap: 50,
	}
}

// Chunk is one segment with its 0-based position. Indexes are contiguous.
type Chunk struct {
	Index int
	Text  string
}

// Split segments text into sentence-aware overlapping chunks. Boundary
// preference within each window: the last sentence terminator, then the last
// whitespace, then a hard break at the window edge. Empty or whitespace-only
// text yields zero chunks.
func Split(text string, cfg Config) []Chunk {
	if len(text) == 0 {
		return nil
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap > cfg.ChunkSize/2 {
		cfg.ChunkOverlap = cfg.ChunkSize / 2
	}

	budget := cfg.ChunkSize * charsPerToken
	overlap := cfg.ChunkOverlap * charsPerToken

	var chunks []Chunk
	start := 0
	index := 0

	for start < len(text) {
		end := start + budget
		if end >= len(text) {
			end = len(text)
		} else {
			if b := lastSentenceBreak(text, start, end); b > start {
				end = b
			} else if w := lastWhitespaceBreak(text, start, end); w > start {
				end = w
			} else {
				end = runeAlign(text, end)
			}
		}
		if end <= start {
			end = start + 1
		}

		if chunkText := strings.TrimSpace(text[start:end]); chunkText != "" {
			chunks = append(chunks, Chunk{Index: index, Text: chunkText})
			index++
		}

		if end >= len(text) {
			break
		}

		next := end - overlap
		if next <= start {
			// Overlap would stall the scan; drop it for this step.
			next = end
		}
		start = next
	}

	return chunks
}

func isSentenceTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?' || c == '\n'
}

// lastSentenceBreak returns the position just after the last sentence
// terminator in (start, end] that is followed by whitespace or end of text,
// or start when none exists.
func lastSentenceBreak(text string, start, end int) int {
	for i := end; i > start; i-- {
		if !isSentenceTerminator(text[i-1]) {
			continue
		}
		if i == len(text) || isWhitespace(text[i]) {
			return i
		}
	}
	return start
}

// lastWhitespaceBreak returns the position of the last whitespace byte in
// (start, end], or start when none exists.
func lastWhitespaceBreak(text string, start, end int) int {
	for i := end; i > start; i-- {
		if isWhitespace(text[i-1]) {
			return i
		}
	}
	return start
}

func isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// runeAlign moves a hard-break position back to the nearest rune boundary so
// a multi-byte character is never split.
func runeAlign(text string, pos int) int {
	for pos > 0 && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}
