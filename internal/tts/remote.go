package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/bus"
	"github.com/loqalabs/loqa-narrate/internal/protocol"
)

type busSynth struct {
	client  *bus.Client
	subject string
	timeout time.Duration
}

// NewBusSynth forwards synthesis to whichever Service answers on subject.
func NewBusSynth(client *bus.Client, subject string, timeout time.Duration) Synthesizer {
	if subject == "" {
		subject = protocol.SubjectSynthesize
	}
	return &busSynth{client: client, subject: subject, timeout: timeout}
}

func (b *busSynth) Synthesize(ctx context.Context, req SynthRequest) (Result, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	var reply protocol.SynthesisReply
	err := b.client.RequestJSON(ctx, b.subject, protocol.SynthesisRequest{
		SessionID:    req.SessionID,
		ChunkID:      req.ChunkID,
		Text:         req.Text,
		Voice:        req.Voice,
		PreviousText: req.PreviousText,
		NextText:     req.NextText,
	}, &reply)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if reply.Error != "" {
		return Result{}, fmt.Errorf("%w: %s", ErrTransport, reply.Error)
	}
	return Result{Audio: reply.Audio, Alignment: reply.Alignment}, nil
}
