package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-narrate/internal/acoustic"
	"github.com/loqalabs/loqa-narrate/internal/alignment"
	"github.com/loqalabs/loqa-narrate/internal/analysiscache"
	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/bus"
	"github.com/loqalabs/loqa-narrate/internal/chunker"
	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/gapless"
	"github.com/loqalabs/loqa-narrate/internal/playback"
	"github.com/loqalabs/loqa-narrate/internal/tts"
)

var renderOut string

var renderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Synthesize a document to one WAV file and print its word timings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if renderOut == "" {
			return fmt.Errorf("--out is required")
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Telemetry.LogLevel)
		text, err := readText(cmd, args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var client *bus.Client
		if cfg.TTS.Mode == "bus" {
			if client, err = bus.Connect(ctx, cfg.Bus, logger); err != nil {
				return err
			}
			defer client.Close()
		}
		synth, err := tts.New(cfg.TTS, client)
		if err != nil {
			return err
		}
		cache, err := analysiscache.Open(ctx, cfg.Cache, logger)
		if err != nil {
			return err
		}
		defer cache.Close()

		chunks := chunker.Split(text, cfg.Chunking.WordsPerChunk, chunker.Options{WordsPerMinute: cfg.Chunking.WordsPerMinute})
		r := renderer{
			cfg:      cfg,
			synth:    synth,
			cache:    cache,
			resolver: alignment.NewResolver(logger, cfg.Playback.FallbackWordSeconds),
			log:      logger,
		}
		clips, sources, err := r.synthesizeAll(ctx, chunks)
		if err != nil {
			return err
		}

		rate := cfg.Playback.OutputSampleRate
		q := gapless.NewQueue(rate)
		report := timingReport{Words: chunker.WordCount(chunks), Chunks: make([]chunkReport, len(chunks))}
		for i, ch := range chunks {
			q.Enqueue(ch.ID, clips[i].Buffer())
			report.Chunks[i] = chunkReport{
				ID:       ch.ID,
				Text:     ch.Text,
				Offset:   report.Duration,
				Duration: ch.Duration,
				Source:   sources[i].String(),
				Words:    ch.Words,
			}
			report.Duration += ch.Duration
		}

		samples := make([]float32, int(math.Ceil(report.Duration*float64(rate))))
		q.Read(samples)
		wav, err := audio.EncodeWAV(samples, rate)
		if err != nil {
			return err
		}
		if err := os.WriteFile(renderOut, wav, 0o644); err != nil {
			return err
		}
		logger.Info("narration rendered", slog.String("path", renderOut), slog.Float64("seconds", report.Duration))
		return writeJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "Output WAV path")
}

type renderer struct {
	cfg      config.Config
	synth    tts.Synthesizer
	cache    *analysiscache.Cache
	resolver *alignment.Resolver
	log      *slog.Logger
}

// synthesizeAll voices every chunk with bounded concurrency and fixes each
// chunk's word timings against its audio.
func (r renderer) synthesizeAll(ctx context.Context, chunks []chunker.Chunk) ([]*audio.Clip, []alignment.Source, error) {
	clips := make([]*audio.Clip, len(chunks))
	sources := make([]alignment.Source, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Playback.PreloadConcurrency))
	for i := range chunks {
		g.Go(func() error {
			ch := &chunks[i]
			prev, next := chunker.Neighbors(chunks, i)
			res, err := r.synth.Synthesize(gctx, tts.SynthRequest{
				ChunkID:      ch.ID,
				Text:         ch.Text,
				Voice:        r.cfg.TTS.Voice,
				PreviousText: prev,
				NextText:     next,
			})
			if err != nil {
				return fmt.Errorf("synthesize %s: %w", ch.ID, err)
			}
			clip, err := audio.Decode(res.Audio)
			if err != nil {
				return fmt.Errorf("decode %s: %w", ch.ID, err)
			}
			out := r.resolve(gctx, ch, clip, res.Alignment)
			if err := alignment.Apply(ch.Words, alignment.Finalize(out.Results, clip.Duration)); err != nil {
				return fmt.Errorf("time %s: %w", ch.ID, err)
			}
			ch.Duration = clip.Duration
			clips[i], sources[i] = clip, out.Source
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return clips, sources, nil
}

func (r renderer) resolve(ctx context.Context, ch *chunker.Chunk, clip *audio.Clip, a *tts.Alignment) alignment.Outcome {
	in := alignment.Input{Duration: clip.Duration}
	if a != nil && len(a.Characters) > 0 {
		in.Characters = &alignment.Characters{Chars: a.Characters, Starts: a.CharStart, Ends: a.CharEnd}
		return r.resolver.Resolve(ch.Words, in)
	}
	if !r.cfg.Acoustic.Enabled {
		return r.resolver.Resolve(ch.Words, in)
	}

	key := analysiscache.Key(ch.ID, ch.Text)
	if res, ok := r.cache.Get(ctx, key); ok && len(res) == len(ch.Words) {
		return alignment.Outcome{
			Results: res,
			Source:  alignment.Source{Kind: alignment.Acoustic, Confidence: alignment.MeanConfidence(res)},
		}
	}
	opts := playback.OptionsFromConfig(r.cfg).AcousticOptions
	in.Acoustic = true
	in.Segments = acoustic.Analyze(clip, opts)
	out := r.resolver.Resolve(ch.Words, in)
	if out.Source.Kind == alignment.Acoustic {
		r.cache.Put(ctx, key, out.Results)
	}
	return out
}
