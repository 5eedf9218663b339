package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-narrate/internal/analysiscache"
	"github.com/loqalabs/loqa-narrate/internal/bus"
	"github.com/loqalabs/loqa-narrate/internal/config"
	"github.com/loqalabs/loqa-narrate/internal/gapless"
	"github.com/loqalabs/loqa-narrate/internal/natsserver"
	"github.com/loqalabs/loqa-narrate/internal/playback"
	"github.com/loqalabs/loqa-narrate/internal/tts"
)

const renderPeriod = 20 * time.Millisecond

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	metrics       http.Handler
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	natsServer *natsserver.EmbeddedServer
	bus        *bus.Client
	cache      *analysiscache.Cache
	ttsService *tts.Service
	queue      *gapless.Queue
	tap        *pcmTap
	hub        *Hub
	controller *playback.Controller
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Controller exposes the narration session.
func (r *Runtime) Controller() *playback.Controller { return r.controller }

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metrics, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metrics

	if err := r.build(ctx); err != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		return errors.Join(err, r.close(shutdownCtx))
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.controller.Run(ctx, time.Duration(r.cfg.Playback.TickMS)*time.Millisecond)
	}()
	go func() {
		defer r.wg.Done()
		if err := gapless.Pump(ctx, r.queue, r.tap, renderPeriod); err != nil {
			r.logger.Error("audio render loop failed", slog.String("error", err.Error()))
		}
	}()

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && r.metrics != nil {
		r.metricsServer = &http.Server{
			Addr:              bind,
			Handler:           r.metrics,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.hub.Close()
	r.wg.Wait()

	if err := r.close(shutdownCtx); err != nil {
		r.logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

// build connects the bus, opens the cache and assembles the controller.
func (r *Runtime) build(ctx context.Context) error {
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			srv, err := natsserver.Start(busCfg, r.logger)
			if err != nil {
				return fmt.Errorf("start embedded bus: %w", err)
			}
			r.natsServer = srv
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		r.bus = client
	}

	cache, err := analysiscache.Open(ctx, r.cfg.Cache, r.logger)
	if err != nil {
		return fmt.Errorf("open analysis cache: %w", err)
	}
	r.cache = cache

	synth, err := tts.New(r.cfg.TTS, r.bus)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}
	if r.cfg.TTS.Serve {
		switch {
		case r.bus == nil:
			return errors.New("tts.serve requires bus.enabled")
		case r.cfg.TTS.Mode == "bus":
			r.logger.Warn("tts.serve ignored: mode bus would answer its own requests")
		default:
			r.ttsService = tts.NewService(ctx, r.cfg.TTS, r.bus, synth, r.logger)
			if err := r.ttsService.Start(); err != nil {
				return fmt.Errorf("start tts service: %w", err)
			}
		}
	}

	r.queue = gapless.NewQueue(r.cfg.Playback.OutputSampleRate)
	r.tap = newPCMTap()
	r.hub = newHub(r.logger, func() any { return r.controller.Snapshot() })
	r.registerGauges()

	sinks := playback.MultiSink{r.hub}
	if r.bus != nil {
		sinks = append(sinks, r.bus)
	}
	r.controller = playback.NewController(ctx, playback.OptionsFromConfig(r.cfg), playback.Deps{
		Synth:  synth,
		Output: playback.NewGaplessOutput(r.queue),
		Cache:  r.cache,
		Events: sinks,
		Logger: r.logger,
	})
	return nil
}

func (r *Runtime) close(ctx context.Context) error {
	var errs []error
	if r.controller != nil {
		r.controller.Close()
	}
	if r.ttsService != nil {
		r.ttsService.Close()
	}
	r.bus.Close()
	r.natsServer.Shutdown()
	if err := r.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	return r.ttsService == nil || r.ttsService.Healthy()
}
