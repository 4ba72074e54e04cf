package ingest

import "strings"

// Chunker splits extracted segments into bounded, overlapping word windows.
// Code segments are never split mid-block below the window size; they flow
// through the same windowing as prose so oversized listings still fit the
// embedder's input limits.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// Default window geometry, in words.
const (
	DefaultChunkSize    = 300
	DefaultChunkOverlap = 50
)

// NewChunker creates a chunker with the given window size and overlap in
// words. Non-positive values pick the defaults.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}

	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Chunk flattens the segments into bounded text pieces, in document order.
// Short segments pass through whole; long ones are windowed with overlap so
// no piece exceeds the chunk size.
func (c *Chunker) Chunk(segments []Segment) []string {
	var out []string
	for _, seg := range segments {
		out = append(out, c.window(seg.Text)...)
	}

	return out
}

func (c *Chunker) window(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= c.chunkSize {
		return []string{strings.Join(words, " ")}
	}

	step := c.chunkSize - c.chunkOverlap

	var pieces []string
	for i := 0; i < len(words); i += step {
		end := min(i+c.chunkSize, len(words))
		pieces = append(pieces, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}

	return pieces
}
