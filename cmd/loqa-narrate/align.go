package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-narrate/internal/acoustic"
	"github.com/loqalabs/loqa-narrate/internal/alignment"
	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/chunker"
	"github.com/loqalabs/loqa-narrate/internal/playback"
	"github.com/loqalabs/loqa-narrate/internal/protocol"
)

var (
	alignText       string
	alignCharacters string
	alignNoAcoustic bool
)

var alignCmd = &cobra.Command{
	Use:   "align <audio.wav> [text-file]",
	Short: "Derive word timings for recorded speech",
	Long: `Align maps the words of a text onto a WAV recording. Provider character
timings (--characters) take precedence, then acoustic segmentation, then the
weight-model estimate.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Telemetry.LogLevel)

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		clip, err := audio.Decode(data)
		if err != nil {
			return err
		}

		text := alignText
		if strings.TrimSpace(text) == "" {
			if text, err = readText(cmd, args[1:]); err != nil {
				return err
			}
		}
		words := strings.Fields(text)
		chunks := chunker.Split(text, len(words), chunker.Options{WordsPerMinute: cfg.Chunking.WordsPerMinute})
		if len(chunks) != 1 {
			return fmt.Errorf("expected one chunk, got %d", len(chunks))
		}
		ch := chunks[0]

		in := alignment.Input{Duration: clip.Duration}
		if alignCharacters != "" {
			raw, err := os.ReadFile(alignCharacters)
			if err != nil {
				return err
			}
			var a protocol.Alignment
			if err := json.Unmarshal(raw, &a); err != nil {
				return fmt.Errorf("parse character alignment: %w", err)
			}
			in.Characters = &alignment.Characters{Chars: a.Characters, Starts: a.CharStart, Ends: a.CharEnd}
		}
		if cfg.Acoustic.Enabled && !alignNoAcoustic {
			in.Acoustic = true
			in.Segments = acoustic.Analyze(clip, playback.OptionsFromConfig(cfg).AcousticOptions)
		}

		out := alignment.NewResolver(logger, cfg.Playback.FallbackWordSeconds).Resolve(ch.Words, in)
		if err := alignment.Apply(ch.Words, alignment.Finalize(out.Results, clip.Duration)); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), timingReport{
			Duration: clip.Duration,
			Words:    len(ch.Words),
			Chunks: []chunkReport{{
				ID:       ch.ID,
				Text:     ch.Text,
				Duration: clip.Duration,
				Source:   out.Source.String(),
				Words:    ch.Words,
			}},
		})
	},
}

func init() {
	alignCmd.Flags().StringVar(&alignText, "text", "", "Text spoken in the recording")
	alignCmd.Flags().StringVar(&alignCharacters, "characters", "", "JSON file with provider character timings")
	alignCmd.Flags().BoolVar(&alignNoAcoustic, "no-acoustic", false, "Skip acoustic segmentation")
}
