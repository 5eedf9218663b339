// Package alignment maps provider character timings or acoustic segments
// onto a chunk's words.
package alignment

import (
	"errors"
	"fmt"
)

// Confidence levels for each timing source.
const (
	ProviderConfidence = 1.0
	ExactConfidence    = 1.0
	MergedConfidence   = 0.8
	SplitConfidence    = 0.7
	EstimateConfidence = 0.5
)

// ErrLengthMismatch is returned when results do not line up with words.
var ErrLengthMismatch = errors.New("alignment length mismatch")

// Result is the timing of one word with a confidence in [0, 1].
type Result struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Kind identifies where a timing table came from. Higher kinds are preferred.
type Kind int

const (
	Estimated Kind = iota
	Acoustic
	ProviderAligned
)

func (k Kind) String() string {
	switch k {
	case Estimated:
		return "estimated"
	case Acoustic:
		return "acoustic"
	case ProviderAligned:
		return "provider"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Source tags a timing table with its origin and overall confidence.
type Source struct {
	Kind       Kind    `json:"kind"`
	Confidence float64 `json:"confidence"`
}

func (s Source) String() string {
	return fmt.Sprintf("%s(%.2f)", s.Kind, s.Confidence)
}

// Outcome is a resolved timing table ready to be applied to a chunk.
type Outcome struct {
	Results []Result
	Source  Source
}

// MeanConfidence averages result confidences; zero for no results.
func MeanConfidence(results []Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return sum / float64(len(results))
}
