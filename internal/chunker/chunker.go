// Package chunker splits page text into overlapping, word-aligned chunks
// sized for embedding.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

const (
	// DefaultSize is the default chunk budget in characters.
	DefaultSize = 500
	// DefaultOverlap is the default overlap budget in characters.
	DefaultOverlap = 50
)

// Chunk is one emitted piece of text.
type Chunk struct {
	// Text is the space-joined words of the chunk.
	Text string

	// Overlap is the number of leading words carried over from the previous
	// chunk. Text's words from index Overlap onwards appear in no earlier chunk.
	Overlap int
}

// Chunker accumulates whitespace-separated words until a character budget is
// reached, then starts the next chunk with a proportional tail of the last one.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker with the given size and overlap budgets. It rejects
// size <= 0, overlap < 0 and overlap >= size with rag.ErrConfig, since those
// settings cannot guarantee forward progress.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", rag.ErrConfig, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", rag.ErrConfig, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", rag.ErrConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the character budget.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap budget.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks text. Each word adds its character count plus one to the
// running size; once the size reaches the budget the chunk is emitted and the
// next one is seeded with the last floor(n*overlap/size) of its n words.
// Because overlap < size the carried tail is always shorter than the chunk,
// so every emission consumes at least one new word. Any non-empty remainder
// is emitted as the final chunk, even when it holds only carried words.
// Whitespace-only text yields no chunks.
func (c *Chunker) Split(text string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		chunks  []Chunk
		current []string
		size    int
		carried int
	)
	for _, w := range words {
		current = append(current, w)
		size += utf8.RuneCountInString(w) + 1

		if size < c.size {
			continue
		}

		chunks = append(chunks, Chunk{Text: strings.Join(current, " "), Overlap: carried})

		keep := len(current) * c.overlap / c.size
		next := make([]string, keep)
		copy(next, current[len(current)-keep:])
		current = next
		carried = keep
		size = 0
		for _, cw := range current {
			size += utf8.RuneCountInString(cw) + 1
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, Chunk{Text: strings.Join(current, " "), Overlap: carried})
	}

	return chunks
}

// Texts returns only the text of each chunk.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}
