// Package acoustic finds speech regions in a waveform by energy thresholding.
package acoustic

import (
	"math"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/audio"
)

// Segment is a contiguous region classified as speech. Times in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Peak  float64 `json:"peak"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Options controls the detector.
type Options struct {
	Window     time.Duration
	Threshold  float64
	MinSilence time.Duration
	MinSegment time.Duration
}

// DefaultOptions returns the detector defaults.
func DefaultOptions() Options {
	return Options{
		Window:     10 * time.Millisecond,
		Threshold:  0.02,
		MinSilence: 50 * time.Millisecond,
		MinSegment: 80 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Window <= 0 {
		o.Window = def.Window
	}
	if o.Threshold <= 0 {
		o.Threshold = def.Threshold
	}
	if o.MinSilence <= 0 {
		o.MinSilence = def.MinSilence
	}
	if o.MinSegment <= 0 {
		o.MinSegment = def.MinSegment
	}
	return o
}

// Analyze runs DetectSegments over the first channel of a clip.
func Analyze(clip *audio.Clip, opts Options) []Segment {
	if clip == nil {
		return nil
	}
	return DetectSegments(clip.Mono(), clip.SampleRate, opts)
}

// DetectSegments slides a fixed window over samples and merges consecutive
// windows whose RMS exceeds the threshold. A segment closes once trailing
// silence reaches MinSilence; segments shorter than MinSegment are dropped.
func DetectSegments(samples []float32, sampleRate int, opts Options) []Segment {
	if sampleRate <= 0 || len(samples) == 0 {
		return nil
	}
	opts = opts.withDefaults()

	window := samplesFor(opts.Window, sampleRate)
	minSilence := samplesFor(opts.MinSilence, sampleRate)
	minSegment := samplesFor(opts.MinSegment, sampleRate)
	rate := float64(sampleRate)

	var (
		segments []Segment
		inSpeech bool
		segStart int
		segEnd   int
		silence  int
		peak     float64
	)
	closeSegment := func() {
		if segEnd-segStart >= minSegment {
			segments = append(segments, Segment{
				Start: float64(segStart) / rate,
				End:   float64(segEnd) / rate,
				Peak:  peak,
			})
		}
		inSpeech = false
	}

	for start := 0; start < len(samples); start += window {
		end := start + window
		if end > len(samples) {
			end = len(samples)
		}
		rms, windowPeak := energy(samples[start:end])

		if rms > opts.Threshold {
			if !inSpeech {
				inSpeech = true
				segStart = start
				peak = 0
			}
			segEnd = end
			silence = 0
			peak = math.Max(peak, windowPeak)
			continue
		}
		if inSpeech {
			silence += end - start
			if silence >= minSilence {
				closeSegment()
			}
		}
	}
	if inSpeech {
		closeSegment()
	}
	return segments
}

func samplesFor(d time.Duration, sampleRate int) int {
	n := int(math.Round(d.Seconds() * float64(sampleRate)))
	if n < 1 {
		n = 1
	}
	return n
}

func energy(window []float32) (rms, peak float64) {
	if len(window) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range window {
		v := float64(s)
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return math.Sqrt(sum / float64(len(window))), peak
}
