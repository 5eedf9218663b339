package playback

import (
	"github.com/loqalabs/loqa-narrate/internal/alignment"
	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/chunker"
	"github.com/loqalabs/loqa-narrate/internal/timing"
	"github.com/loqalabs/loqa-narrate/internal/tts"
)

// State is the playback state of a session.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

// settled reports whether timing tables may be rewritten and analysis
// started in this state.
func (s State) settled() bool {
	return s == StateIdle || s == StatePaused || s == StateEnded
}

// chunkState is the controller's mutable view of one chunk.
type chunkState struct {
	chunker.Chunk

	clip      *audio.Clip
	provider  *tts.Alignment
	loading   bool
	err       error
	source    alignment.Source
	pending   *refinement
	analyzing bool
	analyzed  bool
}

type refinement struct {
	outcome alignment.Outcome
	cached  bool
}

func (c *chunkState) loaded() bool { return c.clip != nil }

// ChunkSnapshot is a read-only copy of a chunk's state.
type ChunkSnapshot struct {
	ID         string            `json:"id"`
	Index      int               `json:"index"`
	Text       string            `json:"text"`
	Words      []timing.WordUnit `json:"words"`
	Duration   float64           `json:"duration"`
	Loaded     bool              `json:"loaded"`
	Loading    bool              `json:"loading"`
	Error      string            `json:"error,omitempty"`
	Source     string            `json:"source"`
	Confidence float64           `json:"confidence"`
	Pending    bool              `json:"pending_refinement"`
}

// Snapshot is a copy of the session for renderers.
type Snapshot struct {
	SessionID  string          `json:"session_id"`
	State      State           `json:"state"`
	ChunkIndex int             `json:"chunk_index"`
	WordIndex  int             `json:"word_index"`
	Speed      float64         `json:"speed"`
	Offsets    []float64       `json:"offsets"`
	Chunks     []ChunkSnapshot `json:"chunks"`
}

// TotalDuration is the sum of chunk durations.
func (s Snapshot) TotalDuration() float64 {
	var total float64
	for _, c := range s.Chunks {
		total += c.Duration
	}
	return total
}
