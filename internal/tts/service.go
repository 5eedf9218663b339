package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/bus"
	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers synthesis requests on the bus with a local Synthesizer.
type Service struct {
	cfg     config.TTSConfig
	bus     *bus.Client
	synth   Synthesizer
	sub     *nats.Subscription
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		synth:   synth,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Serve {
		return nil
	}
	subject := s.cfg.Subject
	if subject == "" {
		subject = protocol.SubjectSynthesize
	}
	sub, err := s.bus.Conn().QueueSubscribe(subject, "tts-workers", s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("serving synthesis", slog.String("subject", subject), slog.String("mode", s.cfg.Mode))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Serve || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synthesis request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()

		reply := protocol.SynthesisReply{SessionID: req.SessionID, ChunkID: req.ChunkID}
		res, err := s.synth.Synthesize(ctx, SynthRequest{
			SessionID:    req.SessionID,
			ChunkID:      req.ChunkID,
			Text:         req.Text,
			Voice:        req.Voice,
			PreviousText: req.PreviousText,
			NextText:     req.NextText,
		})
		if err != nil {
			s.logger.Warn("tts synthesis error", slog.String("chunk_id", req.ChunkID), slogError(err))
			reply.Error = err.Error()
		} else {
			reply.Audio = res.Audio
			reply.Alignment = res.Alignment
		}

		data, err := json.Marshal(reply)
		if err != nil {
			s.logger.Warn("failed to marshal synthesis reply", slogError(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to respond to synthesis request", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
