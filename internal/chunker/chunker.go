// Package chunker splits source text into synthesis-sized chunks with
// pre-audio timing estimates.
package chunker

import (
	"fmt"
	"math"
	"strings"

	"github.com/loqalabs/loqa-narrate/internal/timing"
	"golang.org/x/text/unicode/norm"
)

// DefaultWordsPerMinute is the speaking rate used for pre-audio estimates.
const DefaultWordsPerMinute = 150.0

// Chunk is a bounded span of text synthesized as one audio unit.
type Chunk struct {
	ID       string
	Index    int
	Text     string
	Words    []timing.WordUnit
	Duration float64
}

// FirstIndex returns the global index of the first word.
func (c Chunk) FirstIndex() int {
	if len(c.Words) == 0 {
		return -1
	}
	return c.Words[0].GlobalIndex
}

// LastIndex returns the global index of the last word.
func (c Chunk) LastIndex() int {
	if len(c.Words) == 0 {
		return -1
	}
	return c.Words[len(c.Words)-1].GlobalIndex
}

// Contains reports whether the global word index falls inside the chunk.
func (c Chunk) Contains(globalIndex int) bool {
	return len(c.Words) > 0 && globalIndex >= c.FirstIndex() && globalIndex <= c.LastIndex()
}

// Options tunes the estimate.
type Options struct {
	WordsPerMinute float64
}

// Split breaks fullText into chunks of at most wordsPerChunk words. Global
// word indices run 0..N-1 across the whole document.
func Split(fullText string, wordsPerChunk int, opts Options) []Chunk {
	words := strings.Fields(norm.NFC.String(fullText))
	if len(words) == 0 {
		return nil
	}
	if wordsPerChunk < 1 {
		wordsPerChunk = 1
	}
	wpm := opts.WordsPerMinute
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}

	chunks := make([]Chunk, 0, (len(words)+wordsPerChunk-1)/wordsPerChunk)
	for start := 0; start < len(words); start += wordsPerChunk {
		end := start + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		span := words[start:end]

		units := make([]timing.WordUnit, len(span))
		for i, w := range span {
			units[i] = timing.WordUnit{Text: w, GlobalIndex: start + i}
		}
		duration := EstimateDuration(len(span), wpm)
		timing.Spread(units, 0, duration)

		index := len(chunks)
		chunks = append(chunks, Chunk{
			ID:       ID(index),
			Index:    index,
			Text:     strings.Join(span, " "),
			Words:    units,
			Duration: duration,
		})
	}
	return chunks
}

// ID returns the stable identifier of the chunk at index.
func ID(index int) string {
	return fmt.Sprintf("chunk-%d", index)
}

// EstimateDuration returns whole seconds needed to speak n words at wpm.
func EstimateDuration(n int, wpm float64) float64 {
	if n <= 0 {
		return 0
	}
	return math.Ceil(float64(n) * 60 / wpm)
}

// Neighbors returns the text of the chunks before and after index, used as
// prosody context for synthesis.
func Neighbors(chunks []Chunk, index int) (prev, next string) {
	if index > 0 && index-1 < len(chunks) {
		prev = chunks[index-1].Text
	}
	if index+1 < len(chunks) {
		next = chunks[index+1].Text
	}
	return prev, next
}

// WordCount returns the total number of words across chunks.
func WordCount(chunks []Chunk) int {
	n := 0
	for _, c := range chunks {
		n += len(c.Words)
	}
	return n
}
