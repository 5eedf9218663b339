package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, stdin string, args ...string) timingReport {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	var report timingReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	return report
}

func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("LOQA_BUS_ENABLED", "false")
	t.Setenv("LOQA_CACHE_MODE", "ephemeral")
	t.Setenv("LOQA_TTS_MODE", "mock")
	t.Setenv("LOQA_TTS_SAMPLE_RATE", "8000")
	t.Setenv("LOQA_PLAYBACK_OUTPUT_SAMPLE_RATE", "8000")
}

func TestEstimateCommand(t *testing.T) {
	isolate(t)
	report := run(t, "Hello world. Goodbye now.", "estimate", "--words-per-chunk", "2")

	if report.Words != 4 || len(report.Chunks) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Chunks[1].Offset != report.Chunks[0].Duration {
		t.Fatalf("second chunk offset %v, want %v", report.Chunks[1].Offset, report.Chunks[0].Duration)
	}
	if got := report.Chunks[1].Words[0].GlobalIndex; got != 2 {
		t.Fatalf("expected global index 2, got %d", got)
	}
}

func TestRenderThenAlign(t *testing.T) {
	isolate(t)
	wav := filepath.Join(t.TempDir(), "narration.wav")
	t.Setenv("LOQA_TTS_ALIGNMENT", "false")

	rendered := run(t, "one two three", "render", "--out", wav)
	if len(rendered.Chunks) != 1 || rendered.Chunks[0].Source != "acoustic(1.00)" {
		t.Fatalf("unexpected render report %+v", rendered)
	}

	aligned := run(t, "", "align", wav, "--text", "one two three")
	if aligned.Words != 3 {
		t.Fatalf("expected 3 words, got %d", aligned.Words)
	}
	for i, w := range aligned.Chunks[0].Words {
		want := rendered.Chunks[0].Words[i]
		if diff := w.StartTime - want.StartTime; diff > 0.02 || diff < -0.02 {
			t.Fatalf("word %d start %v, rendered %v", i, w.StartTime, want.StartTime)
		}
	}
}
