package alignment

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-narrate/internal/acoustic"
	"github.com/loqalabs/loqa-narrate/internal/timing"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultFallbackSpan is the duration given to a word whose characters
	// could not be matched against the provider alignment.
	DefaultFallbackSpan = 0.3

	minSpan = 0.01
)

// Characters is provider-supplied per-character timing.
type Characters struct {
	Chars  []string
	Starts []float64
	Ends   []float64
}

// Input carries every timing source available for a chunk.
type Input struct {
	Characters *Characters
	Segments   []acoustic.Segment
	Acoustic   bool
	Duration   float64
}

// Resolver turns timing sources into word spans.
type Resolver struct {
	log          *slog.Logger
	fallbackSpan float64
}

// NewResolver returns a resolver. A nil logger discards output and a
// non-positive fallback uses DefaultFallbackSpan.
func NewResolver(log *slog.Logger, fallbackSpan float64) *Resolver {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if fallbackSpan <= 0 {
		fallbackSpan = DefaultFallbackSpan
	}
	return &Resolver{log: log.With(slog.String("component", "alignment")), fallbackSpan: fallbackSpan}
}

// Resolve picks the best available source: provider characters, then
// acoustic segments, then the weight model estimate.
func (r *Resolver) Resolve(words []timing.WordUnit, in Input) Outcome {
	if c := in.Characters; c != nil && len(c.Chars) > 0 {
		res := r.FromCharacters(words, c.Chars, c.Starts, c.Ends)
		return Outcome{Results: res, Source: Source{Kind: ProviderAligned, Confidence: MeanConfidence(res)}}
	}
	if in.Acoustic && len(in.Segments) > 0 {
		res := r.FromSegments(in.Segments, words, in.Duration)
		return Outcome{Results: res, Source: Source{Kind: Acoustic, Confidence: MeanConfidence(res)}}
	}
	res := r.Estimate(words, in.Duration)
	return Outcome{Results: res, Source: Source{Kind: Estimated, Confidence: EstimateConfidence}}
}

type timedChar struct {
	text       string
	start, end float64
}

// FromCharacters walks words in order, consuming as many non-space provider
// characters as each word has runes. A case-insensitive mismatch gives the
// word a short fallback span after the previous word and skips its expected
// character count; later words are not re-synchronized.
func (r *Resolver) FromCharacters(words []timing.WordUnit, chars []string, starts, ends []float64) []Result {
	n := len(chars)
	if len(starts) < n {
		n = len(starts)
	}
	if len(ends) < n {
		n = len(ends)
	}
	stream := make([]timedChar, 0, n)
	for i := 0; i < n; i++ {
		if strings.TrimSpace(chars[i]) == "" {
			continue
		}
		stream = append(stream, timedChar{text: norm.NFC.String(chars[i]), start: starts[i], end: ends[i]})
	}

	results := make([]Result, len(words))
	cursor := 0
	prevEnd := 0.0
	for wi, w := range words {
		expected := []rune(norm.NFC.String(w.Text))

		matched := cursor+len(expected) <= len(stream) && len(expected) > 0
		start, end := 0.0, 0.0
		if matched {
			for j, want := range expected {
				c := stream[cursor+j]
				if !strings.EqualFold(c.text, string(want)) {
					r.log.Debug("character alignment mismatch",
						slog.String("word", w.Text),
						slog.Int("word_index", w.GlobalIndex),
						slog.String("expected", string(want)),
						slog.String("got", c.text))
					matched = false
					break
				}
				if j == 0 || c.start < start {
					start = c.start
				}
				if j == 0 || c.end > end {
					end = c.end
				}
			}
		}

		if matched {
			results[wi] = Result{Text: w.Text, Start: start, End: end, Confidence: ProviderConfidence}
		} else {
			results[wi] = Result{Text: w.Text, Start: prevEnd, End: prevEnd + r.fallbackSpan, Confidence: EstimateConfidence}
		}
		prevEnd = results[wi].End
		cursor += len(expected)
	}
	return results
}

// FromSegments assigns acoustic segments to words. Equal counts pair 1:1;
// surplus segments are merged into contiguous groups per word; surplus words
// share a segment through the weight model; no segments falls back to the
// estimate over total.
func (r *Resolver) FromSegments(segments []acoustic.Segment, words []timing.WordUnit, total float64) []Result {
	n, k := len(words), len(segments)
	if n == 0 {
		return nil
	}
	results := make([]Result, n)

	switch {
	case k == 0:
		return r.Estimate(words, total)

	case k == n:
		for i, w := range words {
			results[i] = Result{Text: w.Text, Start: segments[i].Start, End: segments[i].End, Confidence: ExactConfidence}
		}

	case k > n:
		for i, w := range words {
			lo, hi := groupBounds(i, k, n)
			results[i] = Result{Text: w.Text, Start: segments[lo].Start, End: segments[hi-1].End, Confidence: MergedConfidence}
		}

	default:
		for g, seg := range segments {
			lo, hi := groupBounds(g, n, k)
			group := append([]timing.WordUnit(nil), words[lo:hi]...)
			timing.Spread(group, seg.Start, seg.End)
			for j, u := range group {
				results[lo+j] = Result{Text: u.Text, Start: u.StartTime, End: u.EndTime, Confidence: SplitConfidence}
			}
		}
	}
	return results
}

// groupBounds returns the half-open range of the i-th of parts contiguous
// groups over total items.
func groupBounds(i, total, parts int) (lo, hi int) {
	return i * total / parts, (i + 1) * total / parts
}

// Finalize enforces a minimum span per word and, when the clip duration is
// known, stretches the last word to the end of the audio.
func Finalize(results []Result, duration float64) []Result {
	for i := range results {
		if results[i].End-results[i].Start < minSpan {
			results[i].End = results[i].Start + minSpan
		}
	}
	if n := len(results); n > 0 && duration > 0 && results[n-1].Start < duration {
		results[n-1].End = duration
	}
	return results
}

// Apply copies result timing onto units in place. Text and global indices
// are left untouched.
func Apply(units []timing.WordUnit, results []Result) error {
	if len(units) != len(results) {
		return fmt.Errorf("%w: %d words, %d results", ErrLengthMismatch, len(units), len(results))
	}
	for i := range units {
		units[i].StartTime = results[i].Start
		units[i].EndTime = results[i].End
	}
	return nil
}

// Estimate distributes total over the words with the weight model.
func (r *Resolver) Estimate(words []timing.WordUnit, total float64) []Result {
	units := append([]timing.WordUnit(nil), words...)
	timing.Spread(units, 0, total)
	results := make([]Result, len(units))
	for i, u := range units {
		results[i] = Result{Text: u.Text, Start: u.StartTime, End: u.EndTime, Confidence: EstimateConfidence}
	}
	return results
}
