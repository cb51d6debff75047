package ingest

import (
	"strings"
	"unicode"
)

// Chunker splits extracted text into overlapping passages sized for
// embedding.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker. Overlap must be smaller than size.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1200
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Split breaks text into chunks, preferring sentence boundaries near the
// target size.
func (c *Chunker) Split(text string) []string {
	text = collapseWhitespace(strings.TrimSpace(text))
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end > len(text) {
			end = len(text)
		}
		if end < len(text) {
			for i := end; i > start+c.chunkSize/2; i-- {
				if text[i] == '.' || text[i] == '!' || text[i] == '?' {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimSpace(text[start:end])
		if len(chunk) > 0 {
			chunks = append(chunks, chunk)
		}
		if end == len(text) {
			break
		}

		newStart := end - c.chunkOverlap
		if newStart <= start {
			newStart = start + 1
		}
		start = newStart
		if start >= len(text) {
			break
		}
	}
	return chunks
}

func collapseWhitespace(text string) string {
	var result strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		} else {
			result.WriteRune(r)
			prevSpace = false
		}
	}
	return result.String()
}
