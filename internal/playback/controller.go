// Package playback drives chunked narration audio as one continuous
// timeline and keeps the highlighted word in sync with the output clock.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-narrate/internal/acoustic"
	"github.com/loqalabs/loqa-narrate/internal/alignment"
	"github.com/loqalabs/loqa-narrate/internal/analysiscache"
	"github.com/loqalabs/loqa-narrate/internal/audio"
	"github.com/loqalabs/loqa-narrate/internal/chunker"
	"github.com/loqalabs/loqa-narrate/internal/protocol"
	"github.com/loqalabs/loqa-narrate/internal/timing"
	"github.com/loqalabs/loqa-narrate/internal/tts"
)

var (
	ErrInvalidSpeed   = errors.New("speed must be positive")
	ErrWordOutOfRange = errors.New("word index out of range")
	ErrNoChunks       = errors.New("nothing to play")
)

// endTolerance is how close to the end of a clip the output position must
// be for the chunk to count as finished.
const endTolerance = 0.001

// Controller owns one narration session. Every mutation, whether from a
// public method or a background completion, runs under mu, so completions
// are applied one at a time in arrival order.
type Controller struct {
	mu       sync.Mutex
	opts     Options
	deps     Deps
	log      *slog.Logger
	resolver *alignment.Resolver
	ins      instruments

	sessionID    string
	chunks       []*chunkState
	offsets      []float64
	state        State
	current      int
	word         int
	speed        float64
	generation   uint64
	preloadedFor int
	// offsetsStale is set when a chunk duration changed while playing; the
	// offsets are rebuilt on the next settled state.
	offsetsStale bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController returns an idle controller with no chunks; call Reset to
// load text.
func NewController(parent context.Context, opts Options, deps Deps) *Controller {
	opts = opts.withDefaults()
	deps = deps.withDefaults()
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(parent)
	log := deps.Logger.With(slog.String("component", "playback"), slog.String("session_id", opts.SessionID))
	return &Controller{
		opts:         opts,
		deps:         deps,
		log:          log,
		resolver:     alignment.NewResolver(log, opts.FallbackSpan),
		ins:          newInstruments(log),
		sessionID:    opts.SessionID,
		state:        StateIdle,
		speed:        opts.Speed,
		preloadedFor: -1,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SessionID identifies the session in emitted events.
func (c *Controller) SessionID() string { return c.sessionID }

// Reset replaces the chunk list and returns to idle. Completions still in
// flight for the previous list are dropped when they arrive.
func (c *Controller) Reset(chunks []chunker.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if s, ok := c.deps.Output.(Stopper); ok {
		s.Stop()
	} else if c.state == StatePlaying {
		c.deps.Output.Pause()
	}
	c.chunks = make([]*chunkState, len(chunks))
	for i, ch := range chunks {
		ch.Words = append([]timing.WordUnit(nil), ch.Words...)
		c.chunks[i] = &chunkState{
			Chunk:  ch,
			source: alignment.Source{Kind: alignment.Estimated, Confidence: alignment.EstimateConfidence},
		}
	}
	c.current = 0
	c.word = 0
	c.preloadedFor = -1
	c.recomputeOffsets()
	c.setState(StateIdle)
	c.log.Info("session reset", slog.Int("chunks", len(chunks)), slog.Int("words", chunker.WordCount(chunks)))
}

// Play starts or resumes output at the current word. If the current chunk
// has no audio yet it is requested and playback starts once it arrives.
func (c *Controller) Play(ctx context.Context) error {
	_, span := c.ins.tracer.Start(ctx, "playback.play")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePlaying {
		return nil
	}
	if len(c.chunks) == 0 {
		return ErrNoChunks
	}
	if c.state == StateEnded {
		c.current = 0
		c.word = c.chunks[0].FirstIndex()
	}
	if c.opts.AutoPreload {
		c.preloadLocked()
	}

	ch := c.chunks[c.current]
	if ch.loaded() {
		c.applyPending(ch)
		return c.activate(c.current, wordStart(ch, c.word), false)
	}
	if !ch.loading {
		c.requestLoad(c.current)
	}
	c.setState(StateLoading)
	return nil
}

// Pause stops output and keeps the position. It is a no-op unless playing
// or loading.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StatePlaying:
		c.deps.Output.Pause()
	case StateLoading:
	default:
		return
	}
	c.setState(StatePaused)
}

// HandleEnded is called when the output finishes chunkID. Calls for a chunk
// that is not the active one are ignored, so a backend may fire it more than
// once.
func (c *Controller) HandleEnded(chunkID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handleEnded(chunkID)
}

func (c *Controller) handleEnded(chunkID string) {
	if c.state != StatePlaying || len(c.chunks) == 0 || c.chunks[c.current].ID != chunkID {
		return
	}

	next := c.current + 1
	if next >= len(c.chunks) {
		c.deps.Output.Pause()
		c.current = 0
		c.setWord(c.chunks[0], c.chunks[0].FirstIndex())
		c.setState(StateEnded)
		c.log.Info("narration ended")
		return
	}

	nc := c.chunks[next]
	if nc.loaded() {
		c.applyPending(nc)
		c.setWord(nc, nc.FirstIndex())
		if err := c.activate(next, 0, true); err != nil {
			c.log.Warn("failed to continue into next chunk", slog.String("chunk_id", nc.ID), slog.String("error", err.Error()))
		}
		return
	}

	c.deps.Output.Pause()
	c.current = next
	c.setWord(nc, nc.FirstIndex())
	c.log.Warn("next chunk not ready at boundary, pausing", slog.String("chunk_id", nc.ID))
	if !nc.loading {
		c.requestLoad(next)
	}
	c.setState(StatePaused)
}

// SeekToWord jumps to the word with the given global index. A target chunk
// without audio leaves the session untouched.
func (c *Controller) SeekToWord(ctx context.Context, globalIndex int) error {
	_, span := c.ins.tracer.Start(ctx, "playback.seek_word", trace.WithAttributes(attribute.Int("word_index", globalIndex)))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.chunkFor(globalIndex)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrWordOutOfRange, globalIndex)
	}
	ch := c.chunks[i]
	if !ch.loaded() {
		c.log.Info("seek target not loaded", slog.Int("word_index", globalIndex), slog.String("chunk_id", ch.ID))
		return nil
	}
	c.applyPending(ch)
	c.setWord(ch, globalIndex)
	return c.activate(i, wordStart(ch, globalIndex), false)
}

// SeekToTime jumps to a position on the whole-document timeline.
func (c *Controller) SeekToTime(ctx context.Context, seconds float64) error {
	_, span := c.ins.tracer.Start(ctx, "playback.seek_time")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.chunks) == 0 {
		return ErrNoChunks
	}
	seconds = math.Max(0, seconds)
	i := sort.Search(len(c.offsets), func(i int) bool { return c.offsets[i] > seconds }) - 1
	if i < 0 {
		i = 0
	}
	ch := c.chunks[i]
	if !ch.loaded() {
		c.log.Info("seek target not loaded", slog.Float64("seconds", seconds), slog.String("chunk_id", ch.ID))
		return nil
	}
	local := math.Min(seconds-c.offsets[i], ch.clip.Duration)
	c.applyPending(ch)
	c.setWord(ch, wordAt(ch.Words, local))
	return c.activate(i, local, false)
}

// SetSpeed changes the playback rate without changing state.
func (c *Controller) SetSpeed(multiplier float64) error {
	if !(multiplier > 0) || math.IsInf(multiplier, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, multiplier)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = multiplier
	c.deps.Output.SetRate(multiplier)
	return nil
}

// Tick samples the output clock, moves the highlighted word and detects the
// end of the active chunk for outputs without end callbacks.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying || len(c.chunks) == 0 {
		return
	}
	ch := c.chunks[c.current]
	if !ch.loaded() {
		return
	}
	pos := c.deps.Output.Position()
	if pos >= ch.clip.Duration-endTolerance {
		c.handleEnded(ch.ID)
		return
	}
	lookahead := c.opts.Lookahead.Seconds() * c.speed
	c.setWord(ch, wordAt(ch.Words, pos+lookahead))
}

// Run calls Tick every period until ctx or the controller is done.
func (c *Controller) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = 50 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Preload requests audio for every chunk, at most once per chunk list.
func (c *Controller) Preload(ctx context.Context) {
	_, span := c.ins.tracer.Start(ctx, "playback.preload")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.preloadLocked()
}

func (c *Controller) preloadLocked() {
	n := len(c.chunks)
	if n == 0 || c.preloadedFor == n {
		return
	}
	c.preloadedFor = n
	gen := c.generation
	limit := c.opts.PreloadConcurrency

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var g errgroup.Group
		g.SetLimit(limit)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				c.mu.Lock()
				if gen != c.generation {
					c.mu.Unlock()
					return nil
				}
				req, ok := c.beginLoad(i)
				c.mu.Unlock()
				if ok {
					c.runLoad(gen, i, req)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		SessionID:  c.sessionID,
		State:      c.state,
		ChunkIndex: c.current,
		WordIndex:  c.word,
		Speed:      c.speed,
		Offsets:    append([]float64(nil), c.offsets...),
		Chunks:     make([]ChunkSnapshot, len(c.chunks)),
	}
	for i, ch := range c.chunks {
		cs := ChunkSnapshot{
			ID:         ch.ID,
			Index:      ch.Index,
			Text:       ch.Text,
			Words:      append([]timing.WordUnit(nil), ch.Words...),
			Duration:   ch.Duration,
			Loaded:     ch.loaded(),
			Loading:    ch.loading,
			Source:     ch.source.Kind.String(),
			Confidence: ch.source.Confidence,
			Pending:    ch.pending != nil,
		}
		if ch.err != nil {
			cs.Error = ch.err.Error()
		}
		snap.Chunks[i] = cs
	}
	return snap
}

// Wait blocks until background synthesis and analysis have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close abandons background work and stops output.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePlaying {
		c.deps.Output.Pause()
		c.setState(StatePaused)
	}
}

// activate makes chunk i the output source at offset seconds and starts it.
// A handoff continues into a chunk the output may already have queued behind
// the previous one, so the position is left alone; every other activation
// seeks, even to zero.
func (c *Controller) activate(i int, offset float64, handoff bool) error {
	ch := c.chunks[i]
	c.current = i
	out := c.deps.Output
	if err := out.Load(ch.ID, ch.clip); err != nil {
		c.setState(StatePaused)
		return fmt.Errorf("load output: %w", err)
	}
	if !handoff {
		if err := out.Seek(offset); err != nil {
			c.setState(StatePaused)
			return fmt.Errorf("seek output: %w", err)
		}
	}
	out.SetRate(c.speed)
	if err := out.Play(); err != nil {
		c.setState(StatePaused)
		if errors.Is(err, ErrPlaybackRejected) {
			c.log.Warn("output rejected playback", slog.String("chunk_id", ch.ID), slog.String("error", err.Error()))
			return nil
		}
		return fmt.Errorf("start output: %w", err)
	}
	c.setState(StatePlaying)
	c.scheduleNext()
	return nil
}

// scheduleNext hands the following chunk to outputs that can queue it.
func (c *Controller) scheduleNext() {
	app, ok := c.deps.Output.(Appender)
	if !ok || c.state != StatePlaying {
		return
	}
	next := c.current + 1
	if next >= len(c.chunks) || !c.chunks[next].loaded() {
		return
	}
	nc := c.chunks[next]
	if err := app.Append(nc.ID, nc.clip); err != nil {
		c.log.Warn("failed to queue next chunk", slog.String("chunk_id", nc.ID), slog.String("error", err.Error()))
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	if s.settled() && c.offsetsStale {
		c.recomputeOffsets()
	}
	c.log.Debug("state changed", slog.String("from", string(prev)), slog.String("to", string(s)))
	c.emit(protocol.StateChanged{
		SessionID:  c.sessionID,
		State:      string(s),
		Previous:   string(prev),
		ChunkIndex: c.current,
		WordIndex:  c.word,
		Timestamp:  time.Now().UTC(),
	})
	if s.settled() {
		for _, ch := range c.chunks {
			c.applyPending(ch)
		}
		c.startAnalyses()
	}
}

func (c *Controller) setWord(ch *chunkState, globalIndex int) {
	if globalIndex == c.word {
		return
	}
	c.word = globalIndex
	evt := protocol.WordChanged{
		SessionID:  c.sessionID,
		ChunkID:    ch.ID,
		ChunkIndex: ch.Index,
		WordIndex:  globalIndex,
		Timestamp:  time.Now().UTC(),
	}
	if ch.Contains(globalIndex) {
		u := ch.Words[globalIndex-ch.FirstIndex()]
		evt.Text, evt.Start, evt.End = u.Text, u.StartTime, u.EndTime
	}
	c.emit(evt)
}

func (c *Controller) emit(evt protocol.Event) {
	c.deps.Events.Emit(evt)
}

func (c *Controller) chunkFor(globalIndex int) int {
	for i, ch := range c.chunks {
		if ch.Contains(globalIndex) {
			return i
		}
	}
	return -1
}

func (c *Controller) recomputeOffsets() {
	c.offsetsStale = false
	c.offsets = make([]float64, len(c.chunks))
	var total float64
	for i, ch := range c.chunks {
		c.offsets[i] = total
		total += ch.Duration
	}
}

// wordAt returns the global index of the last word starting at or before t.
func wordAt(words []timing.WordUnit, t float64) int {
	if len(words) == 0 {
		return 0
	}
	i := sort.Search(len(words), func(i int) bool { return words[i].StartTime > t }) - 1
	if i < 0 {
		i = 0
	}
	return words[i].GlobalIndex
}

func wordStart(ch *chunkState, globalIndex int) float64 {
	if !ch.Contains(globalIndex) {
		return 0
	}
	return ch.Words[globalIndex-ch.FirstIndex()].StartTime
}

// refinements

func (c *Controller) offerRefinement(ch *chunkState, ref refinement) {
	kind := ref.outcome.Source.Kind
	if kind < ch.source.Kind || (ch.pending != nil && kind < ch.pending.outcome.Source.Kind) {
		return
	}
	if c.state == StatePlaying {
		ch.pending = &ref
		c.ins.refined(c.ctx, "deferred", kind.String())
		c.log.Debug("refinement deferred while playing", slog.String("chunk_id", ch.ID), slog.String("source", ref.outcome.Source.String()))
		return
	}
	ch.pending = nil
	c.applyRefinement(ch, ref)
}

func (c *Controller) applyPending(ch *chunkState) {
	if ch.pending == nil {
		return
	}
	ref := *ch.pending
	ch.pending = nil
	c.applyRefinement(ch, ref)
}

func (c *Controller) applyRefinement(ch *chunkState, ref refinement) {
	duration := ch.Duration
	if ch.clip != nil {
		duration = ch.clip.Duration
	}
	results := alignment.Finalize(append([]alignment.Result(nil), ref.outcome.Results...), duration)
	if err := alignment.Apply(ch.Words, results); err != nil {
		c.log.Warn("discarding refinement", slog.String("chunk_id", ch.ID), slog.String("error", err.Error()))
		return
	}
	ch.Duration = duration
	ch.source = ref.outcome.Source
	if c.state == StatePlaying {
		c.offsetsStale = true
	} else {
		c.recomputeOffsets()
	}
	c.ins.refined(c.ctx, "applied", ref.outcome.Source.Kind.String())
	c.emit(protocol.ChunkRefined{
		SessionID:  c.sessionID,
		ChunkID:    ch.ID,
		ChunkIndex: ch.Index,
		Source:     ref.outcome.Source.Kind.String(),
		Confidence: ref.outcome.Source.Confidence,
		Words:      len(ch.Words),
		Cached:     ref.cached,
		Timestamp:  time.Now().UTC(),
	})
}

// loading

type loadResult struct {
	gen       uint64
	index     int
	clip      *audio.Clip
	alignment *tts.Alignment
	err       error
}

func (c *Controller) requestLoad(i int) {
	req, ok := c.beginLoad(i)
	if !ok {
		return
	}
	gen := c.generation
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runLoad(gen, i, req)
	}()
}

// beginLoad marks chunk i as loading. It refuses chunks that already have
// audio or a request in flight.
func (c *Controller) beginLoad(i int) (tts.SynthRequest, bool) {
	ch := c.chunks[i]
	if ch.loaded() || ch.loading {
		return tts.SynthRequest{}, false
	}
	ch.loading = true
	ch.err = nil
	req := tts.SynthRequest{
		SessionID: c.sessionID,
		ChunkID:   ch.ID,
		Text:      ch.Text,
		Voice:     c.opts.Voice,
	}
	if i > 0 {
		req.PreviousText = c.chunks[i-1].Text
	}
	if i+1 < len(c.chunks) {
		req.NextText = c.chunks[i+1].Text
	}
	return req, true
}

func (c *Controller) runLoad(gen uint64, i int, req tts.SynthRequest) {
	ctx, span := c.ins.tracer.Start(c.ctx, "playback.synthesize", trace.WithAttributes(attribute.String("chunk_id", req.ChunkID)))
	res, err := c.deps.Synth.Synthesize(ctx, req)
	var clip *audio.Clip
	if err == nil {
		clip, err = c.deps.Decode(res.Audio)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	c.onLoaded(loadResult{gen: gen, index: i, clip: clip, alignment: res.Alignment, err: err})
}

func (c *Controller) onLoaded(r loadResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.gen != c.generation || r.index >= len(c.chunks) {
		c.log.Debug("dropping stale load result", slog.Int("chunk_index", r.index))
		return
	}
	ch := c.chunks[r.index]
	ch.loading = false

	if r.err != nil {
		ch.err = r.err
		c.ins.synthesized(c.ctx, "error")
		c.log.Warn("chunk load failed", slog.String("chunk_id", ch.ID), slog.String("error", r.err.Error()))
		c.emit(protocol.ChunkError{
			SessionID:  c.sessionID,
			ChunkID:    ch.ID,
			ChunkIndex: ch.Index,
			Error:      r.err.Error(),
			Timestamp:  time.Now().UTC(),
		})
		if r.index == c.current && c.state == StateLoading {
			c.setState(StatePaused)
		}
		return
	}

	c.ins.synthesized(c.ctx, "ok")
	ch.clip = r.clip
	ch.provider = r.alignment

	switch {
	case r.alignment != nil && len(r.alignment.Characters) > 0:
		ch.analyzed = true
		out := c.resolver.Resolve(ch.Words, alignment.Input{
			Characters: &alignment.Characters{
				Chars:  r.alignment.Characters,
				Starts: r.alignment.CharStart,
				Ends:   r.alignment.CharEnd,
			},
			Duration: r.clip.Duration,
		})
		c.offerRefinement(ch, refinement{outcome: out})
	case c.opts.Acoustic:
		c.startAnalysis(ch)
	default:
		ch.analyzed = true
		c.offerRefinement(ch, refinement{outcome: c.resolver.Resolve(ch.Words, alignment.Input{Duration: r.clip.Duration})})
	}

	if r.index == c.current && c.state == StateLoading {
		c.applyPending(ch)
		if err := c.activate(r.index, wordStart(ch, c.word), false); err != nil {
			c.log.Warn("failed to start playback", slog.String("chunk_id", ch.ID), slog.String("error", err.Error()))
		}
		return
	}
	if c.state == StatePlaying && r.index == c.current+1 {
		c.scheduleNext()
	}
}

// analysis

type analysisResult struct {
	gen   uint64
	index int
	ref   refinement
}

func (c *Controller) startAnalyses() {
	for _, ch := range c.chunks {
		c.startAnalysis(ch)
	}
}

// startAnalysis begins acoustic analysis of a loaded chunk. Analysis only
// starts while the session is settled.
func (c *Controller) startAnalysis(ch *chunkState) {
	if !c.opts.Acoustic || !c.state.settled() || !ch.loaded() || ch.analyzed || ch.analyzing {
		return
	}
	ch.analyzing = true
	gen := c.generation
	index := ch.Index
	id, text, clip := ch.ID, ch.Text, ch.clip
	words := append([]timing.WordUnit(nil), ch.Words...)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.onAnalyzed(analysisResult{gen: gen, index: index, ref: c.analyze(id, text, words, clip)})
	}()
}

func (c *Controller) analyze(id, text string, words []timing.WordUnit, clip *audio.Clip) refinement {
	ctx, span := c.ins.tracer.Start(c.ctx, "playback.analyze", trace.WithAttributes(attribute.String("chunk_id", id)))
	defer span.End()

	key := analysiscache.Key(id, text)
	if res, ok := c.deps.Cache.Get(ctx, key); ok && len(res) == len(words) {
		span.SetAttributes(attribute.Bool("cached", true))
		return refinement{
			outcome: alignment.Outcome{
				Results: res,
				Source:  alignment.Source{Kind: alignment.Acoustic, Confidence: alignment.MeanConfidence(res)},
			},
			cached: true,
		}
	}

	started := time.Now()
	segments := acoustic.Analyze(clip, c.opts.AcousticOptions)
	out := c.resolver.Resolve(words, alignment.Input{Segments: segments, Acoustic: true, Duration: clip.Duration})
	c.ins.analysed(ctx, time.Since(started))
	span.SetAttributes(attribute.Int("segments", len(segments)), attribute.String("source", out.Source.Kind.String()))
	if out.Source.Kind == alignment.Acoustic {
		c.deps.Cache.Put(ctx, key, out.Results)
	}
	return refinement{outcome: out}
}

func (c *Controller) onAnalyzed(r analysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.gen != c.generation || r.index >= len(c.chunks) {
		return
	}
	ch := c.chunks[r.index]
	ch.analyzing = false
	ch.analyzed = true
	c.offerRefinement(ch, r.ref)
}
