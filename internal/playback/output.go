package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/gapless"
)

// ErrPlaybackRejected is returned by an Output that refuses to start, for
// example when an autoplay policy requires a user gesture.
var ErrPlaybackRejected = errors.New("playback rejected by output")

// Output is the audio device driven by the controller. Positions are in
// seconds local to the loaded chunk.
type Output interface {
	Load(chunkID string, clip *audio.Clip) error
	Play() error
	Pause()
	Seek(seconds float64) error
	SetRate(rate float64)
	Position() float64
}

// Appender is implemented by outputs that can schedule the next chunk to
// start exactly when the current one ends.
type Appender interface {
	Append(chunkID string, clip *audio.Clip) error
}

// Stopper is implemented by outputs that hold queued audio beyond the
// loaded chunk. Stop discards all of it.
type Stopper interface {
	Stop()
}

// GaplessOutput plays chunks through a gapless.Queue. Appended chunks are
// already scheduled on the shared clock, so loading one of them only moves
// the position reference.
type GaplessOutput struct {
	mu       sync.Mutex
	queue    *gapless.Queue
	current  string
	duration float64
	clips    map[string]*audio.Clip
}

// NewGaplessOutput pauses q and returns an output with nothing loaded.
func NewGaplessOutput(q *gapless.Queue) *GaplessOutput {
	q.Pause()
	return &GaplessOutput{queue: q, clips: make(map[string]*audio.Clip)}
}

// Queue exposes the underlying render queue.
func (g *GaplessOutput) Queue() *gapless.Queue { return g.queue }

func (g *GaplessOutput) Load(chunkID string, clip *audio.Clip) error {
	if clip == nil {
		return errors.New("load: nil clip")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = chunkID
	g.duration = clip.Duration
	// A queued entry is only reused when it holds this exact clip; chunk IDs
	// repeat across sessions.
	if _, queued := g.queue.Position(chunkID); queued && g.clips[chunkID] == clip {
		for id := range g.clips {
			if _, ok := g.queue.Position(id); !ok {
				delete(g.clips, id)
			}
		}
		return nil
	}
	g.queue.Stop()
	g.clips = map[string]*audio.Clip{chunkID: clip}
	g.queue.Enqueue(chunkID, clip.Buffer())
	return nil
}

func (g *GaplessOutput) Append(chunkID string, clip *audio.Clip) error {
	if clip == nil {
		return errors.New("append: nil clip")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, queued := g.queue.Position(chunkID); queued && g.clips[chunkID] == clip {
		return nil
	}
	if _, queued := g.queue.Position(chunkID); queued {
		return fmt.Errorf("append: %s already queued with different audio", chunkID)
	}
	g.clips[chunkID] = clip
	g.queue.Enqueue(chunkID, clip.Buffer())
	return nil
}

func (g *GaplessOutput) Play() error {
	g.queue.Resume()
	return nil
}

func (g *GaplessOutput) Pause() {
	g.queue.Pause()
}

// Seek restarts the current chunk at seconds. Appended chunks are dropped
// and must be appended again.
func (g *GaplessOutput) Seek(seconds float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	clip, ok := g.clips[g.current]
	if !ok {
		return errors.New("seek: no chunk loaded")
	}
	g.queue.Stop()
	g.clips = map[string]*audio.Clip{g.current: clip}
	g.queue.EnqueueAt(g.current, clip.Buffer(), seconds)
	return nil
}

// Stop drops every queued chunk and pauses the clock.
func (g *GaplessOutput) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue.Pause()
	g.queue.Stop()
	g.clips = make(map[string]*audio.Clip)
	g.current = ""
	g.duration = 0
}

func (g *GaplessOutput) SetRate(rate float64) {
	g.queue.SetRate(rate)
}

// Position returns the current chunk's position, or its duration once the
// queue has moved past it.
func (g *GaplessOutput) Position() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pos, ok := g.queue.Position(g.current); ok {
		return pos
	}
	return g.duration
}
