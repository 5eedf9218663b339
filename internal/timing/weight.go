package timing

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Pause weights keyed by the trailing punctuation class of a word.
const (
	SentencePause = 3.0
	ClausePause   = 2.0
	CommaPause    = 1.5

	longWordBonus   = 0.5
	shortWordCredit = 0.2
	minWeight       = 0.3
)

// WordUnit is a single word placed on a chunk-local timeline.
type WordUnit struct {
	Text        string  `json:"text"`
	StartTime   float64 `json:"start"`
	EndTime     float64 `json:"end"`
	GlobalIndex int     `json:"index"`
}

// Duration returns the span length in seconds.
func (w WordUnit) Duration() float64 {
	return w.EndTime - w.StartTime
}

// Weight returns the relative speaking duration of a word.
func Weight(word string) float64 {
	stripped := strings.TrimRightFunc(word, unicode.IsPunct)
	trailing := word[len(stripped):]

	w := float64(Syllables(stripped))
	w += pauseWeight(trailing)

	n := utf8.RuneCountInString(stripped)
	if n > 10 {
		w += longWordBonus
	}
	if n <= 2 {
		w -= shortWordCredit
	}
	if w < minWeight {
		w = minWeight
	}
	return w
}

func pauseWeight(trailing string) float64 {
	switch {
	case strings.ContainsAny(trailing, ".!?"):
		return SentencePause
	case strings.ContainsAny(trailing, ";:"):
		return ClausePause
	case strings.ContainsRune(trailing, ','):
		return CommaPause
	}
	return 0
}

// Syllables estimates the syllable count of a word by collapsing vowel runs.
// A y counts as a vowel except at the start of the word, and a silent
// trailing e is dropped. Any non-empty word, numerals included, has at least
// one.
func Syllables(word string) int {
	lower := []rune(strings.ToLower(word))

	count := 0
	inVowel := false
	for i, r := range lower {
		v := isVowel(r, i)
		if v && !inVowel {
			count++
		}
		inVowel = v
	}

	if n := len(lower); count > 1 && n >= 2 && lower[n-1] == 'e' && !isVowel(lower[n-2], n-2) {
		count--
	}
	if count == 0 && len(lower) > 0 {
		count = 1
	}
	return count
}

func isVowel(r rune, pos int) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	case 'y':
		return pos > 0
	}
	return false
}

// Distribute lays words out over [0, total) proportionally to their weights.
// Indices are assigned 0..len(words)-1.
func Distribute(words []string, total float64) []WordUnit {
	units := make([]WordUnit, len(words))
	for i, w := range words {
		units[i] = WordUnit{Text: w, GlobalIndex: i}
	}
	Spread(units, 0, total)
	return units
}

// Spread rewrites the timing of units in place so they tile [start, end]
// contiguously, weighted by Weight. Text and index are left untouched.
func Spread(units []WordUnit, start, end float64) {
	if len(units) == 0 {
		return
	}
	weights := make([]float64, len(units))
	var sum float64
	for i, u := range units {
		weights[i] = Weight(u.Text)
		sum += weights[i]
	}

	span := end - start
	cursor := start
	for i := range units {
		units[i].StartTime = cursor
		cursor += span * weights[i] / sum
		units[i].EndTime = cursor
	}
	units[len(units)-1].EndTime = end
}
