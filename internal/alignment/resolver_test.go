package alignment

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-narrate/internal/acoustic"
	"github.com/loqalabs/loqa-narrate/internal/timing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func units(words ...string) []timing.WordUnit {
	out := make([]timing.WordUnit, len(words))
	for i, w := range words {
		out[i] = timing.WordUnit{Text: w, GlobalIndex: 10 + i}
	}
	return out
}

// charStream spells text one character at a time, 50ms per character,
// including the spaces between words.
func charStream(text string) ([]string, []float64, []float64) {
	var chars []string
	var starts, ends []float64
	t := 0.0
	for _, r := range text {
		chars = append(chars, string(r))
		starts = append(starts, t)
		t += 0.05
		ends = append(ends, t)
	}
	return chars, starts, ends
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFromCharactersMatches(t *testing.T) {
	r := NewResolver(newLogger(), 0)
	words := units("Hello", "world.")
	chars, starts, ends := charStream("hello world.")

	res := r.FromCharacters(words, chars, starts, ends)
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	if !approx(res[0].Start, 0) || !approx(res[0].End, 0.25) {
		t.Fatalf("unexpected span for Hello: %+v", res[0])
	}
	if !approx(res[1].Start, 0.30) || !approx(res[1].End, 0.60) {
		t.Fatalf("unexpected span for world.: %+v", res[1])
	}
	for _, x := range res {
		if x.Confidence != ProviderConfidence {
			t.Fatalf("expected provider confidence, got %v", x.Confidence)
		}
	}
}

func TestFromCharactersMismatchFallsBack(t *testing.T) {
	r := NewResolver(newLogger(), 0)
	words := units("one", "two", "three")
	chars, starts, ends := charStream("one tvo three")

	res := r.FromCharacters(words, chars, starts, ends)
	if res[0].Confidence != ProviderConfidence {
		t.Fatalf("first word should match: %+v", res[0])
	}
	if res[1].Confidence != EstimateConfidence {
		t.Fatalf("expected fallback confidence for mismatched word, got %+v", res[1])
	}
	if !approx(res[1].Start, res[0].End) || !approx(res[1].End, res[0].End+DefaultFallbackSpan) {
		t.Fatalf("fallback span should follow previous word: %+v after %+v", res[1], res[0])
	}
	// The cursor skipped three characters so the next word still lines up.
	if res[2].Confidence != ProviderConfidence {
		t.Fatalf("expected third word to realign, got %+v", res[2])
	}
}

func TestFromCharactersShortStream(t *testing.T) {
	r := NewResolver(newLogger(), 0.2)
	words := units("alpha", "beta")
	chars, starts, ends := charStream("alpha")

	res := r.FromCharacters(words, chars, starts, ends)
	if res[0].Confidence != ProviderConfidence {
		t.Fatalf("expected first word matched: %+v", res[0])
	}
	if res[1].Confidence != EstimateConfidence || !approx(res[1].End-res[1].Start, 0.2) {
		t.Fatalf("expected configured fallback span, got %+v", res[1])
	}
}

func segmentsFor(spans ...[2]float64) []acoustic.Segment {
	out := make([]acoustic.Segment, len(spans))
	for i, s := range spans {
		out[i] = acoustic.Segment{Start: s[0], End: s[1], Peak: 0.5}
	}
	return out
}

func TestFromSegmentsOneToOne(t *testing.T) {
	r := NewResolver(newLogger(), 0)
	segs := segmentsFor([2]float64{0.1, 0.4}, [2]float64{0.6, 0.75}, [2]float64{1.1, 1.5})
	res := r.FromSegments(segs, units("a", "b", "c"), 1.6)
	for i, s := range segs {
		if res[i].Start != s.Start || res[i].End != s.End {
			t.Fatalf("word %d: expected segment span %+v, got %+v", i, s, res[i])
		}
		if res[i].Confidence != 1.0 {
			t.Fatalf("expected confidence 1.0, got %v", res[i].Confidence)
		}
	}
}

func TestFromSegmentsMerged(t *testing.T) {
	r := NewResolver(newLogger(), 0)
	segs := segmentsFor(
		[2]float64{0.0, 0.1}, [2]float64{0.2, 0.3},
		[2]float64{0.4, 0.5}, [2]float64{0.6, 0.7}, [2]float64{0.8, 0.9},
	)
	res := r.FromSegments(segs, units("a", "b"), 1.0)
	// floor(i*5/2): groups [0,2) and [2,5).
	if !approx(res[0].Start, 0.0) || !approx(res[0].End, 0.3) {
		t.Fatalf("unexpected first group %+v", res[0])
	}
	if !approx(res[1].Start, 0.4) || !approx(res[1].End, 0.9) {
		t.Fatalf("unexpected second group %+v", res[1])
	}
	if res[0].Confidence != MergedConfidence || res[1].Confidence != MergedConfidence {
		t.Fatalf("expected merged confidence")
	}
}

func TestFromSegmentsSplit(t *testing.T) {
	r := NewResolver(newLogger(), 0)
	segs := segmentsFor([2]float64{0.0, 1.0}, [2]float64{2.0, 3.0})
	res := r.FromSegments(segs, units("a", "b", "c", "d"), 3.0)
	if !approx(res[0].Start, 0) || !approx(res[1].End, 1.0) {
		t.Fatalf("first pair should tile first segment: %+v %+v", res[0], res[1])
	}
	if !approx(res[2].Start, 2.0) || !approx(res[3].End, 3.0) {
		t.Fatalf("second pair should tile second segment: %+v %+v", res[2], res[3])
	}
	if !approx(res[0].End, res[1].Start) {
		t.Fatalf("words within a segment should be contiguous")
	}
	for _, x := range res {
		if x.Confidence != SplitConfidence {
			t.Fatalf("expected split confidence, got %v", x.Confidence)
		}
	}
}

func TestFromSegmentsNoneEqualsEstimate(t *testing.T) {
	r := NewResolver(newLogger(), 0)
	words := units("the", "quick", "brown", "fox.")
	res := r.FromSegments(nil, words, 2.0)
	want := timing.Distribute([]string{"the", "quick", "brown", "fox."}, 2.0)
	for i := range want {
		if !approx(res[i].Start, want[i].StartTime) || !approx(res[i].End, want[i].EndTime) {
			t.Fatalf("word %d: got %+v, want %+v", i, res[i], want[i])
		}
		if res[i].Confidence != EstimateConfidence {
			t.Fatalf("expected estimate confidence")
		}
	}
	if words[0].StartTime != 0 || words[0].EndTime != 0 {
		t.Fatalf("input units must not be mutated")
	}
}

func TestResolvePrefersProvider(t *testing.T) {
	r := NewResolver(newLogger(), 0)
	words := units("hi", "there")
	chars, starts, ends := charStream("hi there")

	out := r.Resolve(words, Input{
		Characters: &Characters{Chars: chars, Starts: starts, Ends: ends},
		Segments:   segmentsFor([2]float64{0, 1}, [2]float64{1, 2}),
		Acoustic:   true,
		Duration:   2,
	})
	if out.Source.Kind != ProviderAligned || out.Source.Confidence != 1.0 {
		t.Fatalf("expected provider source, got %v", out.Source)
	}

	out = r.Resolve(words, Input{Segments: segmentsFor([2]float64{0, 1}, [2]float64{1, 2}), Acoustic: true, Duration: 2})
	if out.Source.Kind != Acoustic {
		t.Fatalf("expected acoustic source, got %v", out.Source)
	}

	out = r.Resolve(words, Input{Segments: segmentsFor([2]float64{0, 1}), Duration: 2})
	if out.Source.Kind != Estimated || out.Source.Confidence != EstimateConfidence {
		t.Fatalf("expected estimate when acoustic disabled, got %v", out.Source)
	}
	if !strings.HasPrefix(out.Source.String(), "estimated") {
		t.Fatalf("unexpected source string %q", out.Source.String())
	}
}

func TestFinalize(t *testing.T) {
	res := Finalize([]Result{
		{Text: "a", Start: 0, End: 0},
		{Text: "b", Start: 0.5, End: 0.9},
	}, 1.2)
	if !approx(res[0].End, minSpan) {
		t.Fatalf("expected minimum span, got %+v", res[0])
	}
	if !approx(res[1].End, 1.2) {
		t.Fatalf("expected last word stretched to duration, got %+v", res[1])
	}

	res = Finalize([]Result{{Start: 2, End: 2.5}}, 1.0)
	if !approx(res[0].End, 2.5) {
		t.Fatalf("last word starting past duration must not be stretched: %+v", res[0])
	}
}

func TestApplyKeepsIndices(t *testing.T) {
	words := units("x", "y")
	if err := Apply(words, []Result{{Start: 0, End: 1}, {Start: 1, End: 2}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if words[1].GlobalIndex != 11 || words[1].StartTime != 1 || words[1].EndTime != 2 {
		t.Fatalf("unexpected unit %+v", words[1])
	}
	if err := Apply(words, []Result{{}}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}
