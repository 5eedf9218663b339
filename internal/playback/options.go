package playback

import (
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/acoustic"
	"github.com/loqalabs/loqa-narrate/internal/alignment"
	"github.com/loqalabs/loqa-narrate/internal/analysiscache"
	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/tts"
)

// Options tunes a Controller.
type Options struct {
	SessionID          string
	Voice              string
	Lookahead          time.Duration
	FallbackSpan       float64
	PreloadConcurrency int
	Speed              float64
	AutoPreload        bool
	Acoustic           bool
	AcousticOptions    acoustic.Options
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig derives controller options from the loaded config.
func OptionsFromConfig(cfg config.Config) Options {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return Options{
		Voice:              cfg.TTS.Voice,
		Lookahead:          ms(cfg.Playback.LookaheadMS),
		FallbackSpan:       cfg.Playback.FallbackWordSeconds,
		PreloadConcurrency: cfg.Playback.PreloadConcurrency,
		Speed:              cfg.Playback.Speed,
		AutoPreload:        cfg.Playback.AutoPreload,
		Acoustic:           cfg.Acoustic.Enabled,
		AcousticOptions: acoustic.Options{
			Window:     ms(cfg.Acoustic.WindowMS),
			Threshold:  cfg.Acoustic.Threshold,
			MinSilence: ms(cfg.Acoustic.MinSilenceMS),
			MinSegment: ms(cfg.Acoustic.MinSegmentMS),
		},
	}
}

// Deps are the controller's collaborators. Only Synth and Output are
// required.
type Deps struct {
	Synth  tts.Synthesizer
	Decode audio.Decoder
	Output Output
	Cache  *analysiscache.Cache
	Events EventSink
	Logger *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Decode == nil {
		d.Decode = audio.Decode
	}
	if d.Events == nil {
		d.Events = nopSink{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d
}

func (o Options) withDefaults() Options {
	if o.Speed <= 0 {
		o.Speed = 1
	}
	if o.PreloadConcurrency <= 0 {
		o.PreloadConcurrency = 2
	}
	if o.Lookahead < 0 {
		o.Lookahead = 0
	}
	if o.FallbackSpan <= 0 {
		o.FallbackSpan = alignment.DefaultFallbackSpan
	}
	return o
}
