package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/acoustic"
	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/bus"
	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMockSynthSegmentsPerWord(t *testing.T) {
	synth := NewMockSynth(16000, true, 0)
	res, err := synth.Synthesize(context.Background(), SynthRequest{Text: "Hello world. Goodbye now."})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	clip, err := audio.Decode(res.Audio)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	segs := acoustic.Analyze(clip, acoustic.DefaultOptions())
	if len(segs) != 4 {
		t.Fatalf("expected one segment per word, got %d: %+v", len(segs), segs)
	}

	if res.Alignment == nil {
		t.Fatal("expected alignment")
	}
	a := res.Alignment
	if got := strings.Join(a.Characters, ""); got != "Hello world. Goodbye now." {
		t.Fatalf("alignment characters spell %q", got)
	}
	if len(a.CharStart) != len(a.Characters) || len(a.CharEnd) != len(a.Characters) {
		t.Fatalf("alignment arrays differ in length")
	}
	last := len(a.CharEnd) - 1
	if diff := a.CharEnd[last] - clip.Duration; diff > 1e-3 || diff < -1e-3 {
		t.Fatalf("alignment should end with the audio: %v vs %v", a.CharEnd[last], clip.Duration)
	}
}

func TestMockSynthWithoutAlignment(t *testing.T) {
	res, err := NewMockSynth(8000, false, 0).Synthesize(context.Background(), SynthRequest{Text: "one"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.Alignment != nil {
		t.Fatal("alignment should be omitted")
	}
	if _, err := NewMockSynth(8000, false, 0).Synthesize(context.Background(), SynthRequest{Text: "  "}); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport for empty text, got %v", err)
	}
}

func TestMockSynthHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockSynth(8000, false, time.Second).Synthesize(ctx, SynthRequest{Text: "late"})
	if !errors.Is(err, ErrTransport) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped cancellation, got %v", err)
	}
}

func TestExecSynth(t *testing.T) {
	synth, err := NewExecSynth(`sh -c 'cat > /dev/null; printf "{\"audio_base64\":\"UklGRg==\"}"'`, "en-US", 16000)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	res, err := synth.Synthesize(context.Background(), SynthRequest{ChunkID: "chunk-0", Text: "hi"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(res.Audio) != "RIFF" {
		t.Fatalf("unexpected audio %q", res.Audio)
	}
}

func TestExecSynthFailure(t *testing.T) {
	synth, err := NewExecSynth(`sh -c 'echo boom >&2; exit 3'`, "", 16000)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	_, err = synth.Synthesize(context.Background(), SynthRequest{Text: "hi"})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if _, err := NewExecSynth("", "", 0); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestServiceRoundTrip(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	cfg := config.TTSConfig{Mode: "mock", Serve: true, Subject: "tts.test", SampleRate: 8000, Alignment: true, TimeoutMS: 2000}
	local, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	svc := NewService(context.Background(), cfg, client, local, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	remote, err := New(config.TTSConfig{Mode: "bus", Subject: "tts.test", TimeoutMS: 2000}, client)
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	res, err := remote.Synthesize(context.Background(), SynthRequest{ChunkID: "chunk-1", Text: "over the wire"})
	if err != nil {
		t.Fatalf("remote synthesize: %v", err)
	}
	if _, err := audio.Decode(res.Audio); err != nil {
		t.Fatalf("remote audio should decode: %v", err)
	}
	if res.Alignment == nil || len(res.Alignment.Characters) != len("over the wire") {
		t.Fatalf("expected alignment to survive the bus")
	}

	if _, err := remote.Synthesize(context.Background(), SynthRequest{Text: ""}); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected remote failure to wrap ErrTransport, got %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("service should report healthy")
	}
}

func TestFactoryModes(t *testing.T) {
	if _, err := New(config.TTSConfig{Mode: "bus"}, nil); err == nil {
		t.Fatal("bus mode without client should fail")
	}
	if _, err := New(config.TTSConfig{Mode: "carrier-pigeon"}, nil); err == nil {
		t.Fatal("unknown mode should fail")
	}
}
