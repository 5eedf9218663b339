package chunker

import (
	"strings"
	"testing"
)

func TestSplitSingleChunk(t *testing.T) {
	chunks := Split("Hello world. Goodbye now.", 10, Options{})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if len(c.Words) != 4 {
		t.Fatalf("expected 4 words, got %d", len(c.Words))
	}
	for i, w := range c.Words {
		if w.GlobalIndex != i {
			t.Fatalf("word %d has index %d", i, w.GlobalIndex)
		}
	}
	if c.ID != "chunk-0" || c.Text != "Hello world. Goodbye now." {
		t.Fatalf("unexpected chunk: %+v", c)
	}
	if c.Duration != 2 {
		t.Fatalf("expected 2s estimate for 4 words at 150wpm, got %v", c.Duration)
	}
	if c.Words[3].EndTime != c.Duration {
		t.Fatalf("expected last word to end at duration")
	}
}

func TestSplitIndicesContiguous(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 13)
	total := len(strings.Fields(text))
	for wpc := 1; wpc <= total+3; wpc++ {
		chunks := Split(text, wpc, Options{})
		next := 0
		for ci, c := range chunks {
			if len(c.Words) == 0 || len(c.Words) > wpc {
				t.Fatalf("wpc=%d chunk %d has %d words", wpc, ci, len(c.Words))
			}
			if c.Index != ci || c.ID != ID(ci) {
				t.Fatalf("wpc=%d chunk %d has bad identity %q/%d", wpc, ci, c.ID, c.Index)
			}
			for _, w := range c.Words {
				if w.GlobalIndex != next {
					t.Fatalf("wpc=%d expected index %d, got %d", wpc, next, w.GlobalIndex)
				}
				next++
			}
		}
		if next != total {
			t.Fatalf("wpc=%d expected %d words, got %d", wpc, total, next)
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t  \n"} {
		if chunks := Split(text, 5, Options{}); len(chunks) != 0 {
			t.Fatalf("expected no chunks for %q, got %d", text, len(chunks))
		}
	}
}

func TestSplitTrimsWhitespace(t *testing.T) {
	chunks := Split("  one\t two \n\n three  ", 2, Options{})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "one two" || chunks[1].Text != "three" {
		t.Fatalf("unexpected texts %q %q", chunks[0].Text, chunks[1].Text)
	}
	if chunks[1].FirstIndex() != 2 || chunks[1].LastIndex() != 2 {
		t.Fatalf("unexpected range for chunk 1")
	}
}

func TestSplitNonPositiveBudget(t *testing.T) {
	chunks := Split("a b c", 0, Options{})
	if len(chunks) != 3 {
		t.Fatalf("expected one word per chunk, got %d chunks", len(chunks))
	}
}

func TestEstimateDuration(t *testing.T) {
	cases := []struct {
		n    int
		wpm  float64
		want float64
	}{
		{1, 150, 1},
		{150, 150, 60},
		{151, 150, 61},
		{10, 300, 2},
		{0, 150, 0},
	}
	for _, tc := range cases {
		if got := EstimateDuration(tc.n, tc.wpm); got != tc.want {
			t.Errorf("EstimateDuration(%d, %v) = %v, want %v", tc.n, tc.wpm, got, tc.want)
		}
	}
}

func TestNeighbors(t *testing.T) {
	chunks := Split("a b c d e f", 2, Options{})
	prev, next := Neighbors(chunks, 1)
	if prev != "a b" || next != "e f" {
		t.Fatalf("unexpected neighbors %q %q", prev, next)
	}
	prev, next = Neighbors(chunks, 0)
	if prev != "" || next != "c d" {
		t.Fatalf("unexpected neighbors for first chunk %q %q", prev, next)
	}
	if !chunks[2].Contains(5) || chunks[2].Contains(3) {
		t.Fatalf("unexpected Contains result")
	}
}
