package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loqalabs/loqa-narrate/internal/chunker"
	"github.com/loqalabs/loqa-narrate/internal/playback"
)

const maxBodyBytes = 4 << 20

var errEmptyBody = errors.New("empty request body")

type loadRequest struct {
	Text          string `json:"text"`
	WordsPerChunk int    `json:"words_per_chunk,omitempty"`
	Play          bool   `json:"play,omitempty"`
}

type seekRequest struct {
	Word    *int     `json:"word,omitempty"`
	Seconds *float64 `json:"seconds,omitempty"`
}

type speedRequest struct {
	Speed float64 `json:"speed"`
}

// Router returns the HTTP surface of the runtime.
func (r *Runtime) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", r.handleHealth)
	mux.Get("/readyz", r.handleReady)

	metrics := r.metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	mux.Handle("/metrics", metrics)

	mux.Route("/v1/narration", func(n chi.Router) {
		n.Get("/", r.handleSnapshot)
		n.Put("/", r.handleLoad)
		n.Post("/play", r.handlePlay)
		n.Post("/pause", r.handlePause)
		n.Post("/seek", r.handleSeek)
		n.Post("/speed", r.handleSpeed)
		n.Post("/preload", r.handlePreload)
		n.Get("/ws", r.hub.ServeHTTP)
		n.Get("/audio", r.handleAudio)
	})
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, r.controller.Snapshot())
}

func (r *Runtime) handleLoad(w http.ResponseWriter, req *http.Request) {
	var body loadRequest
	if err := decodeJSON(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	wpc := body.WordsPerChunk
	if wpc <= 0 {
		wpc = r.cfg.Chunking.WordsPerChunk
	}
	chunks := chunker.Split(body.Text, wpc, chunker.Options{WordsPerMinute: r.cfg.Chunking.WordsPerMinute})
	r.controller.Reset(chunks)
	r.logger.Info("narration loaded", slog.Int("chunks", len(chunks)), slog.Int("words", chunker.WordCount(chunks)))

	if body.Play {
		if err := r.controller.Play(req.Context()); err != nil {
			respondControlError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, r.controller.Snapshot())
}

func (r *Runtime) handlePlay(w http.ResponseWriter, req *http.Request) {
	if err := r.controller.Play(req.Context()); err != nil {
		respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.controller.Snapshot())
}

func (r *Runtime) handlePause(w http.ResponseWriter, _ *http.Request) {
	r.controller.Pause()
	respondJSON(w, http.StatusOK, r.controller.Snapshot())
}

func (r *Runtime) handlePreload(w http.ResponseWriter, req *http.Request) {
	r.controller.Preload(req.Context())
	respondJSON(w, http.StatusAccepted, r.controller.Snapshot())
}

func (r *Runtime) handleSeek(w http.ResponseWriter, req *http.Request) {
	var body seekRequest
	if err := decodeJSON(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var err error
	switch {
	case body.Word != nil:
		err = r.controller.SeekToWord(req.Context(), *body.Word)
	case body.Seconds != nil:
		err = r.controller.SeekToTime(req.Context(), *body.Seconds)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "word or seconds is required")
		return
	}
	if err != nil {
		respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.controller.Snapshot())
}

func (r *Runtime) handleSpeed(w http.ResponseWriter, req *http.Request) {
	var body speedRequest
	if err := decodeJSON(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := r.controller.SetSpeed(body.Speed); err != nil {
		respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.controller.Snapshot())
}

func respondControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playback.ErrInvalidSpeed), errors.Is(err, playback.ErrWordOutOfRange):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, playback.ErrNoChunks):
		respondError(w, http.StatusConflict, "no_narration", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "playback_error", err.Error())
	}
}

func decodeJSON(req *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}
