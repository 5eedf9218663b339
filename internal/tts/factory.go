package tts

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/bus"
	"github.com/loqalabs/loqa-narrate/internal/config"
)

// New returns the synthesizer selected by cfg.Mode. The bus client is only
// required for mode=bus.
func New(cfg config.TTSConfig, client *bus.Client) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Alignment, time.Duration(cfg.LatencyMS)*time.Millisecond), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.Voice, cfg.SampleRate)
	case "bus":
		if client == nil {
			return nil, fmt.Errorf("tts mode bus requires a bus connection")
		}
		return NewBusSynth(client, cfg.Subject, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	}
	return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
}
