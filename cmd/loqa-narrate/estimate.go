package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-narrate/internal/chunker"
	"github.com/loqalabs/loqa-narrate/internal/timing"
)

var estimateWordsPerChunk int

type chunkReport struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Offset   float64           `json:"offset"`
	Duration float64           `json:"duration"`
	Source   string            `json:"source,omitempty"`
	Words    []timing.WordUnit `json:"words"`
}

type timingReport struct {
	Duration float64       `json:"duration"`
	Words    int           `json:"words"`
	Chunks   []chunkReport `json:"chunks"`
}

var estimateCmd = &cobra.Command{
	Use:   "estimate [file]",
	Short: "Print pre-audio word timings for a document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		text, err := readText(cmd, args)
		if err != nil {
			return err
		}
		wpc := cfg.Chunking.WordsPerChunk
		if estimateWordsPerChunk > 0 {
			wpc = estimateWordsPerChunk
		}

		chunks := chunker.Split(text, wpc, chunker.Options{WordsPerMinute: cfg.Chunking.WordsPerMinute})
		report := timingReport{Words: chunker.WordCount(chunks), Chunks: make([]chunkReport, len(chunks))}
		for i, ch := range chunks {
			report.Chunks[i] = chunkReport{
				ID:       ch.ID,
				Text:     ch.Text,
				Offset:   report.Duration,
				Duration: ch.Duration,
				Source:   "estimated",
				Words:    ch.Words,
			}
			report.Duration += ch.Duration
		}
		return writeJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	estimateCmd.Flags().IntVar(&estimateWordsPerChunk, "words-per-chunk", 0, "Override chunking.words_per_chunk")
}

// readText reads a document from the named file, or stdin for none or "-".
func readText(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", err
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no text to narrate")
	}
	return text, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
