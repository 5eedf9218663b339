package tts

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-narrate/internal/audio"
)

const (
	mockToneBase    = 0.12
	mockTonePerRune = 0.08
	mockGap         = 0.12
	mockFrequency   = 220.0
	mockAmplitude   = 0.3
)

type mockSynth struct {
	sampleRate int
	alignment  bool
	latency    time.Duration
}

// NewMockSynth renders one tone burst per word separated by silence, which
// makes the output trivially segmentable. With alignment enabled it also
// reports character timings spread over each burst.
func NewMockSynth(sampleRate int, alignment bool, latency time.Duration) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &mockSynth{sampleRate: sampleRate, alignment: alignment, latency: latency}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (Result, error) {
	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
		case <-time.After(m.latency):
		}
	}
	words := strings.Fields(req.Text)
	if len(words) == 0 {
		return Result{}, fmt.Errorf("%w: nothing to synthesize", ErrTransport)
	}

	rate := float64(m.sampleRate)
	var (
		samples []float32
		align   Alignment
		cursor  float64
	)
	for i, w := range words {
		if i > 0 {
			gapStart := cursor
			samples = append(samples, make([]float32, int(mockGap*rate))...)
			cursor = float64(len(samples)) / rate
			align.Characters = append(align.Characters, " ")
			align.CharStart = append(align.CharStart, gapStart)
			align.CharEnd = append(align.CharEnd, cursor)
		}

		runes := utf8.RuneCountInString(w)
		n := int((mockToneBase + mockTonePerRune*float64(runes)) * rate)
		for j := 0; j < n; j++ {
			samples = append(samples, float32(mockAmplitude*math.Sin(2*math.Pi*mockFrequency*float64(j)/rate)))
		}
		start := cursor
		end := float64(len(samples)) / rate
		step := (end - start) / float64(runes)
		k := 0
		for _, r := range w {
			align.Characters = append(align.Characters, string(r))
			align.CharStart = append(align.CharStart, start+float64(k)*step)
			align.CharEnd = append(align.CharEnd, start+float64(k+1)*step)
			k++
		}
		cursor = end
	}

	data, err := audio.EncodeWAV(samples, m.sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode: %w", ErrTransport, err)
	}
	res := Result{Audio: data}
	if m.alignment {
		res.Alignment = &align
	}
	return res, nil
}
