package gapless

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"time"
)

// Pump renders the queue in real time, writing signed 16-bit little-endian
// mono PCM to w every period until ctx is done.
func Pump(ctx context.Context, q *Queue, w io.Writer, period time.Duration) error {
	if period <= 0 {
		period = 20 * time.Millisecond
	}
	frames := int(math.Round(period.Seconds() * float64(q.SampleRate())))
	if frames < 1 {
		frames = 1
	}
	samples := make([]float32, frames)
	pcm := make([]byte, frames*2)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		q.Read(samples)
		encodePCM16(pcm, samples)
		if _, err := w.Write(pcm); err != nil {
			return err
		}
	}
}

func encodePCM16(dst []byte, samples []float32) {
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
}
