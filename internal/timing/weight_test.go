package timing

import (
	"math"
	"testing"
)

func TestSyllables(t *testing.T) {
	cases := []struct {
		word string
		want int
	}{
		{"hello", 2},
		{"world", 1},
		{"make", 1},
		{"the", 1},
		{"free", 1},
		{"yellow", 2},
		{"rhythm", 1},
		{"goodbye", 2},
		{"banana", 3},
		{"xx", 1},
		{"", 0},
		{"42", 1},
		{"1984", 1},
	}
	for _, tc := range cases {
		if got := Syllables(tc.word); got != tc.want {
			t.Errorf("Syllables(%q) = %d, want %d", tc.word, got, tc.want)
		}
	}
}

func TestWeightPunctuation(t *testing.T) {
	base := Weight("world")
	cases := []struct {
		word  string
		pause float64
	}{
		{"world.", SentencePause},
		{"world!", SentencePause},
		{"world?", SentencePause},
		{"world.\"", SentencePause},
		{"world;", ClausePause},
		{"world:", ClausePause},
		{"world,", CommaPause},
		{"world", 0},
	}
	for _, tc := range cases {
		got := Weight(tc.word) - base
		if math.Abs(got-tc.pause) > 1e-9 {
			t.Errorf("pause for %q = %v, want %v", tc.word, got, tc.pause)
		}
	}
}

func TestWeightLengthAdjustments(t *testing.T) {
	if got := Weight("extraordinary"); got != 5.5 {
		t.Fatalf("expected long word bonus, got %v", got)
	}
	if got := Weight("of"); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("expected short word credit, got %v", got)
	}
	if got := Weight("42"); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("expected numerals to weigh like a short word, got %v", got)
	}
	if got := Weight("—"); got != minWeight {
		t.Fatalf("expected weight floor, got %v", got)
	}
}

func TestHelloWorldWeights(t *testing.T) {
	hello := Weight("Hello")
	world := Weight("world.")
	if hello >= world {
		t.Fatalf("expected Hello (%v) lighter than world. (%v)", hello, world)
	}
	if diff := Weight("world.") - Weight("world"); diff < 3.0 {
		t.Fatalf("expected sentence pause of at least 3.0, got %v", diff)
	}
}

func TestDistributeContiguous(t *testing.T) {
	inputs := [][]string{
		{"one"},
		{"Hello", "world.", "Goodbye", "now."},
		{"a", "b", "extraordinarily", "long,", "sentence;", "with", "many", "words!"},
	}
	for _, words := range inputs {
		for _, total := range []float64{0.5, 2, 17.3} {
			units := Distribute(words, total)
			if len(units) != len(words) {
				t.Fatalf("expected %d units, got %d", len(words), len(units))
			}
			if units[0].StartTime != 0 {
				t.Fatalf("expected first start 0, got %v", units[0].StartTime)
			}
			if units[len(units)-1].EndTime != total {
				t.Fatalf("expected last end %v, got %v", total, units[len(units)-1].EndTime)
			}
			for i, u := range units {
				if u.Text != words[i] || u.GlobalIndex != i {
					t.Fatalf("unit %d mismatch: %+v", i, u)
				}
				if u.EndTime <= u.StartTime {
					t.Fatalf("unit %d has empty span: %+v", i, u)
				}
				if i > 0 && units[i-1].EndTime != u.StartTime {
					t.Fatalf("gap between %d and %d", i-1, i)
				}
			}
		}
	}
}

func TestDistributeExact(t *testing.T) {
	units := Distribute([]string{"Hello", "world.", "Goodbye", "now."}, 2)
	want := []float64{0, 1.0 / 3, 1, 4.0 / 3, 2}
	for i, u := range units {
		if math.Abs(u.StartTime-want[i]) > 1e-9 || math.Abs(u.EndTime-want[i+1]) > 1e-9 {
			t.Fatalf("unit %d = [%v, %v], want [%v, %v]", i, u.StartTime, u.EndTime, want[i], want[i+1])
		}
	}
}

func TestSpreadKeepsIndices(t *testing.T) {
	units := []WordUnit{{Text: "alpha", GlobalIndex: 7}, {Text: "beta", GlobalIndex: 8}}
	Spread(units, 3, 5)
	if units[0].GlobalIndex != 7 || units[1].GlobalIndex != 8 {
		t.Fatalf("indices changed: %+v", units)
	}
	if units[0].StartTime != 3 || units[1].EndTime != 5 {
		t.Fatalf("unexpected bounds: %+v", units)
	}
}

func TestDistributeEmpty(t *testing.T) {
	if units := Distribute(nil, 3); len(units) != 0 {
		t.Fatalf("expected no units, got %d", len(units))
	}
}
