// Package chunker splits normalized text into overlapping, word-bounded chunks.
package chunker

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

const (
	// DefaultSize is the default number of words per chunk.
	DefaultSize = 500

	// DefaultOverlap is the default number of words shared by adjacent chunks.
	DefaultOverlap = 100

	// DefaultSnapWindow is the trailing character window searched for a sentence end.
	DefaultSnapWindow = 300
)

// ErrInvalidOptions is returned when size and overlap cannot make progress.
var ErrInvalidOptions = errors.New("invalid chunk options")

// Chunk is one window of words. Start is the word offset of the first word.
type Chunk struct {
	Content string
	Index   int
	Start   int
	Words   int
}

// Chunker walks a word sequence in windows of size words, advancing by
// size-overlap words until the start offset reaches the word count.
type Chunker struct {
	size       int
	overlap    int
	snap       bool
	snapWindow int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSize sets the maximum words per chunk.
func WithSize(n int) Option {
	return func(c *Chunker) { c.size = n }
}

// WithOverlap sets the words shared between adjacent chunks.
func WithOverlap(n int) Option {
	return func(c *Chunker) { c.overlap = n }
}

// WithSentenceSnap ends non-final chunks at the last sentence terminator found
// in the trailing window characters, as long as the cut stays inside the
// overlap region so no word is skipped by the following chunk.
func WithSentenceSnap(window int) Option {
	return func(c *Chunker) {
		c.snap = true
		if window > 0 {
			c.snapWindow = window
		}
	}
}

// New returns a Chunker. Overlap must be in [0, size).
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:       DefaultSize,
		overlap:    DefaultOverlap,
		snapWindow: DefaultSnapWindow,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidOptions, c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidOptions, c.overlap, c.size)
	}
	return c, nil
}

// Size returns the configured words per chunk.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in words.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks returns a lazy sequence over text. Each range over the sequence
// re-splits text, so it can be iterated any number of times.
func (c *Chunker) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		words := strings.Fields(text)
		step := c.size - c.overlap
		idx := 0

		for start := 0; start < len(words); start += step {
			end := min(start+c.size, len(words))
			if c.snap && end < len(words) {
				end = c.snapEnd(words, start, end)
			}

			content := strings.TrimSpace(strings.Join(words[start:end], " "))
			if content == "" {
				continue
			}

			if !yield(Chunk{Content: content, Index: idx, Start: start, Words: end - start}) {
				return
			}
			idx++
		}
	}
}

// Split collects Chunks(text) into a slice. Empty text yields nil.
func (c *Chunker) Split(text string) []Chunk {
	var out []Chunk
	for ch := range c.Chunks(text) {
		out = append(out, ch)
	}
	return out
}

// snapEnd moves end back to just after the last word that closes a sentence,
// searching words that fall in both the overlap region and the trailing
// character window.
func (c *Chunker) snapEnd(words []string, start, end int) int {
	floor := start + (c.size - c.overlap)
	chars := 0
	for i := end - 1; i >= floor && i > start; i-- {
		if chars > c.snapWindow {
			break
		}
		if endsSentence(words[i]) {
			return i + 1
		}
		chars += len(words[i]) + 1
	}
	return end
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"')]”’`)
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}

// Count returns the number of chunks produced for a text of n words.
func Count(n, size, overlap int) int {
	if n <= 0 || size <= overlap {
		return 0
	}
	step := size - overlap
	return (n + step - 1) / step
}
