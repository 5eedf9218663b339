package runtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// pcmTap receives the rendered output stream and copies it to listeners.
// With no listeners the audio is discarded; the render loop still runs so
// the playback clock advances.
type pcmTap struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newPCMTap() *pcmTap {
	return &pcmTap{subs: make(map[chan []byte]struct{})}
}

func (t *pcmTap) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 {
		return len(p), nil
	}
	frame := append([]byte(nil), p...)
	for ch := range t.subs {
		select {
		case ch <- frame:
		default:
		}
	}
	return len(p), nil
}

func (t *pcmTap) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 32)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}
}

func (t *pcmTap) listeners() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// handleAudio streams raw s16le mono PCM of the narration output.
func (r *Runtime) handleAudio(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
		return
	}
	frames, unsubscribe := r.tap.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Sample-Rate", fmt.Sprint(r.queue.SampleRate()))
	w.Header().Set("X-Sample-Format", "s16le")
	w.Header().Set("X-Channels", "1")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case frame := <-frames:
			if _, err := w.Write(frame); err != nil {
				r.logger.Debug("audio listener went away", slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
		}
	}
}
