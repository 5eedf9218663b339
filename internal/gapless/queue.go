// Package gapless schedules decoded chunks back to back on one sample clock
// so consecutive chunks play without a gap.
package gapless

import (
	"math"
	"sync"

	goaudio "github.com/go-audio/audio"
)

type entry struct {
	chunkID    string
	data       []float32
	sampleRate int
	// offset is the source position (seconds) that plays at start.
	offset float64
	// start is the clock time (seconds) at which offset plays.
	start float64
	rate  float64
}

func (e *entry) sourceDuration() float64 {
	return float64(len(e.data)) / float64(e.sampleRate)
}

// end is the clock time at which the entry runs out of samples.
func (e *entry) end() float64 {
	return e.start + (e.sourceDuration()-e.offset)/e.rate
}

func (e *entry) sourceAt(clock float64) float64 {
	return e.offset + (clock-e.start)*e.rate
}

// Queue is a mono render queue driven by Read. It is safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	sampleRate int
	rendered   int64
	entries    []*entry
	nextStart  float64
	rate       float64
	paused     bool
}

// NewQueue returns a queue rendering at sampleRate.
func NewQueue(sampleRate int) *Queue {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &Queue{sampleRate: sampleRate, rate: 1}
}

// SampleRate is the output sample rate.
func (q *Queue) SampleRate() int { return q.sampleRate }

// CurrentTime reports the shared clock in seconds.
func (q *Queue) CurrentTime() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.now()
}

func (q *Queue) now() float64 {
	return float64(q.rendered) / float64(q.sampleRate)
}

// Enqueue schedules buf to start as soon as everything already queued has
// played.
func (q *Queue) Enqueue(chunkID string, buf *goaudio.Float32Buffer) {
	q.EnqueueAt(chunkID, buf, 0)
}

// EnqueueAt is Enqueue starting offset seconds into buf.
func (q *Queue) EnqueueAt(chunkID string, buf *goaudio.Float32Buffer, offset float64) {
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return
	}
	data := mono(buf)
	q.mu.Lock()
	defer q.mu.Unlock()

	e := &entry{
		chunkID:    chunkID,
		data:       data,
		sampleRate: buf.Format.SampleRate,
		offset:     math.Max(0, math.Min(offset, float64(len(data))/float64(buf.Format.SampleRate))),
		start:      math.Max(q.now(), q.nextStart),
		rate:       q.rate,
	}
	q.entries = append(q.entries, e)
	q.nextStart = e.end()
}

// SetRate changes the playback rate of every queued entry. The active entry
// keeps its current source position; pending entries are rescheduled behind
// it.
func (q *Queue) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rate = rate
	now := q.now()
	cursor := now
	for i, e := range q.entries {
		if e.start <= now && now < e.end() {
			e.offset = e.sourceAt(now)
			e.start = now
		} else if i > 0 {
			e.start = cursor
		}
		e.rate = rate
		cursor = e.end()
	}
	q.nextStart = math.Max(cursor, now)
}

// Rate reports the current playback rate.
func (q *Queue) Rate() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rate
}

// Stop drops every entry and resets the clock.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	q.rendered = 0
	q.nextStart = 0
}

// Pause freezes the clock; Read emits silence until Resume.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
}

func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Len reports the number of entries not yet fully played.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Position maps the clock to chunk-local seconds. Pending entries report
// their start offset; finished or unknown chunks report false.
func (q *Queue) Position(chunkID string) (float64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, e := range q.entries {
		if e.chunkID != chunkID {
			continue
		}
		if now < e.start {
			return e.offset, true
		}
		return math.Min(e.sourceAt(now), e.sourceDuration()), true
	}
	return 0, false
}

// Active returns the chunk currently sounding.
func (q *Queue) Active() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, e := range q.entries {
		if e.start <= now && now < e.end() {
			return e.chunkID, true
		}
	}
	return "", false
}

// Read renders len(out) samples, advancing the clock unless paused. Source
// audio at a different sample rate or playback rate is resampled linearly.
func (q *Queue) Read(out []float32) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		clear(out)
		return len(out)
	}

	rate := float64(q.sampleRate)
	for i := range out {
		t := float64(q.rendered+int64(i)) / rate
		out[i] = q.sampleAt(t)
	}
	q.rendered += int64(len(out))

	now := q.now()
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.end() > now {
			kept = append(kept, e)
		}
	}
	clear(q.entries[len(kept):])
	q.entries = kept
	return len(out)
}

func (q *Queue) sampleAt(t float64) float32 {
	for _, e := range q.entries {
		if t < e.start || t >= e.end() {
			continue
		}
		pos := e.sourceAt(t) * float64(e.sampleRate)
		i := int(pos)
		if i >= len(e.data) {
			return 0
		}
		frac := float32(pos - float64(i))
		if i+1 >= len(e.data) {
			return e.data[i]
		}
		return e.data[i] + (e.data[i+1]-e.data[i])*frac
	}
	return 0
}

func mono(buf *goaudio.Float32Buffer) []float32 {
	ch := buf.Format.NumChannels
	if ch <= 1 {
		return append([]float32(nil), buf.Data...)
	}
	out := make([]float32, len(buf.Data)/ch)
	for i := range out {
		out[i] = buf.Data[i*ch]
	}
	return out
}
