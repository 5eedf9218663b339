package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrDecode is returned when audio bytes cannot be decoded.
var ErrDecode = errors.New("audio decode failed")

// Decode parses a PCM WAV payload.
func Decode(data []byte) (*Clip, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrDecode)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: missing format", ErrDecode)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	scale, bias := sampleScale(int(dec.BitDepth))

	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := (float64(buf.Data[i*channels+ch]) - bias) / scale
			out[ch][i] = float32(v)
		}
	}

	return &Clip{
		SampleRate: buf.Format.SampleRate,
		Channels:   out,
		Duration:   float64(frames) / float64(buf.Format.SampleRate),
	}, nil
}

func sampleScale(bitDepth int) (scale, bias float64) {
	switch {
	case bitDepth == 8:
		return 128, 128
	case bitDepth > 8 && bitDepth <= 32:
		return float64(int64(1) << (bitDepth - 1)), 0
	}
	return 32768, 0
}

// EncodeWAV renders mono samples as 16-bit PCM WAV.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	ints := make([]int, len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		ints[i] = int(math.Round(v * 32767))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// memFile is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type memFile struct {
	data []byte
	pos  int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.data) {
		if end > cap(m.data) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.data)
			m.data = grown
		} else {
			m.data = m.data[:end]
		}
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative position %d", next)
	}
	m.pos = int(next)
	return next, nil
}

func (m *memFile) Bytes() []byte {
	return m.data
}
