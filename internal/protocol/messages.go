package protocol

import "time"

const (
	SubjectSynthesize      = "tts.synthesize"
	SubjectNarrationState  = "narration.state"
	SubjectNarrationWord   = "narration.word"
	SubjectChunkError      = "narration.chunk.error"
	SubjectChunkRefined    = "narration.chunk.refined"
	SubjectSnapshot        = "narration.snapshot"
	SubjectNarrationPrefix = "narration.>"
)

// Event is a narration notification published to observers.
type Event interface {
	Subject() string
}

// Alignment is per-character timing as returned by speech providers.
type Alignment struct {
	Characters []string  `json:"characters"`
	CharStart  []float64 `json:"character_start_times_seconds"`
	CharEnd    []float64 `json:"character_end_times_seconds"`
}

// SynthesisRequest asks a remote synthesizer to voice one chunk.
type SynthesisRequest struct {
	SessionID    string `json:"session_id"`
	ChunkID      string `json:"chunk_id"`
	Text         string `json:"text"`
	Voice        string `json:"voice,omitempty"`
	PreviousText string `json:"previous_text,omitempty"`
	NextText     string `json:"next_text,omitempty"`
}

// SynthesisReply carries encoded audio back to the requester. Error is set
// instead of Audio when synthesis failed.
type SynthesisReply struct {
	SessionID string     `json:"session_id"`
	ChunkID   string     `json:"chunk_id"`
	Audio     []byte     `json:"audio,omitempty"`
	Alignment *Alignment `json:"alignment,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// StateChanged reports a playback state transition.
type StateChanged struct {
	SessionID  string    `json:"session_id"`
	State      string    `json:"state"`
	Previous   string    `json:"previous"`
	ChunkIndex int       `json:"chunk_index"`
	WordIndex  int       `json:"word_index"`
	Timestamp  time.Time `json:"timestamp"`
}

func (StateChanged) Subject() string { return SubjectNarrationState }

// WordChanged reports the word that should be highlighted.
type WordChanged struct {
	SessionID  string    `json:"session_id"`
	ChunkID    string    `json:"chunk_id"`
	ChunkIndex int       `json:"chunk_index"`
	WordIndex  int       `json:"word_index"`
	Text       string    `json:"text"`
	Start      float64   `json:"start"`
	End        float64   `json:"end"`
	Timestamp  time.Time `json:"timestamp"`
}

func (WordChanged) Subject() string { return SubjectNarrationWord }

// ChunkError reports a failed synthesis or decode for one chunk.
type ChunkError struct {
	SessionID  string    `json:"session_id"`
	ChunkID    string    `json:"chunk_id"`
	ChunkIndex int       `json:"chunk_index"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

func (ChunkError) Subject() string { return SubjectChunkError }

// ChunkRefined reports that refined word timings were applied to a chunk.
type ChunkRefined struct {
	SessionID  string    `json:"session_id"`
	ChunkID    string    `json:"chunk_id"`
	ChunkIndex int       `json:"chunk_index"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	Words      int       `json:"words"`
	Cached     bool      `json:"cached"`
	Timestamp  time.Time `json:"timestamp"`
}

func (ChunkRefined) Subject() string { return SubjectChunkRefined }
