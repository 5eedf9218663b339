package tts

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-narrate/internal/protocol"
)

// ErrTransport wraps every synthesis failure that should leave the chunk
// retriable.
var ErrTransport = errors.New("tts transport error")

// SynthRequest contains parameters to synthesize one chunk. Neighbouring
// chunk text is passed along for providers that use it for prosody.
type SynthRequest struct {
	SessionID    string
	ChunkID      string
	Text         string
	Voice        string
	PreviousText string
	NextText     string
}

// Alignment is optional per-character timing returned with the audio.
type Alignment = protocol.Alignment

// Result is encoded audio plus optional alignment.
type Result struct {
	Audio     []byte
	Alignment *Alignment
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (Result, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, req SynthRequest) (Result, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, req SynthRequest) (Result, error) {
	return f(ctx, req)
}
