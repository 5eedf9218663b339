package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd        []string
	voice      string
	sampleRate int
}

type execRequest struct {
	ChunkID      string `json:"chunk_id"`
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	SampleRate   int    `json:"sample_rate"`
	PreviousText string `json:"previous_text,omitempty"`
	NextText     string `json:"next_text,omitempty"`
}

type execResponse struct {
	AudioBase64 string     `json:"audio_base64"`
	Alignment   *Alignment `json:"alignment,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NewExecSynth runs command once per chunk. The command receives an
// execRequest as JSON on stdin and must print one execResponse on stdout.
func NewExecSynth(command, voice string, sampleRate int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, voice: voice, sampleRate: sampleRate}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (Result, error) {
	voice := req.Voice
	if voice == "" {
		voice = e.voice
	}
	data, err := json.Marshal(execRequest{
		ChunkID:      req.ChunkID,
		Text:         req.Text,
		Voice:        voice,
		SampleRate:   e.sampleRate,
		PreviousText: req.PreviousText,
		NextText:     req.NextText,
	})
	if err != nil {
		return Result{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Result{}, fmt.Errorf("%w: %s: %w (%s)", ErrTransport, e.cmd[0], err, msg)
		}
		return Result{}, fmt.Errorf("%w: %s: %w", ErrTransport, e.cmd[0], err)
	}

	var resp execResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %w", ErrTransport, err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("%w: %s", ErrTransport, resp.Error)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return Result{}, fmt.Errorf("%w: decode audio: %w", ErrTransport, err)
	}
	if len(audio) == 0 {
		return Result{}, fmt.Errorf("%w: empty audio", ErrTransport)
	}
	return Result{Audio: audio, Alignment: resp.Alignment}, nil
}
