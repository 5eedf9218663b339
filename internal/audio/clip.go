// Package audio decodes synthesized speech into sample buffers.
package audio

import (
	goaudio "github.com/go-audio/audio"
)

// Clip is decoded audio held in memory, one float slice per channel with
// samples normalized to [-1, 1].
type Clip struct {
	SampleRate int
	Channels   [][]float32
	Duration   float64
}

// Decoder turns encoded audio bytes into a Clip.
type Decoder func(data []byte) (*Clip, error)

// NewClip builds a mono clip from samples.
func NewClip(samples []float32, sampleRate int) *Clip {
	c := &Clip{SampleRate: sampleRate, Channels: [][]float32{samples}}
	if sampleRate > 0 {
		c.Duration = float64(len(samples)) / float64(sampleRate)
	}
	return c
}

// Mono returns the first channel.
func (c *Clip) Mono() []float32 {
	if c == nil || len(c.Channels) == 0 {
		return nil
	}
	return c.Channels[0]
}

// Buffer exposes the first channel as a go-audio float buffer.
func (c *Clip) Buffer() *goaudio.Float32Buffer {
	return &goaudio.Float32Buffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		Data:           c.Mono(),
		SourceBitDepth: 32,
	}
}
