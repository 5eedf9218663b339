// Package analysiscache memoizes refined word timings per chunk in a memory
// tier with an optional persistent backend.
package analysiscache

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-narrate/internal/alignment"
	"github.com/loqalabs/loqa-narrate/internal/config"
)

const defaultEntries = 4096

// Backend persists encoded timing tables. Implementations must be safe for
// concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Key derives the cache key for a chunk from its identity and text.
func Key(chunkID, text string) string {
	h := xxhash.New()
	_, _ = h.WriteString(chunkID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(text)
	var sum [8]byte
	return hex.EncodeToString(h.Sum(sum[:0]))
}

// Cache is a two-tier timing cache. A nil *Cache behaves as always empty.
type Cache struct {
	mem     *lru.Cache[string, []alignment.Result]
	backend Backend
	log     *slog.Logger

	lookups metric.Int64Counter
}

// New builds a cache over an optional backend.
func New(entries int, backend Backend, log *slog.Logger) (*Cache, error) {
	if entries <= 0 {
		entries = defaultEntries
	}
	mem, err := lru.New[string, []alignment.Result](entries)
	if err != nil {
		return nil, fmt.Errorf("create memory tier: %w", err)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Cache{mem: mem, backend: backend, log: log.With(slog.String("component", "analysiscache"))}

	meter := otel.Meter("github.com/loqalabs/loqa-narrate/analysiscache")
	if c.lookups, err = meter.Int64Counter("narrate.cache.lookups", metric.WithDescription("Analysis cache lookups by result")); err != nil {
		c.log.Warn("failed to register cache counter", slog.String("error", err.Error()))
	}
	return c, nil
}

// Open builds the cache described by cfg. A persistent store that cannot be
// opened is logged and skipped; the cache then runs on the memory tier alone.
func Open(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (*Cache, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Mode {
	case "", "ephemeral":
	case "sqlite":
		backend, err = OpenSQLite(ctx, cfg.Path, cfg.VacuumOnStart)
	case "postgres":
		backend, err = OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown cache mode %q", cfg.Mode)
	}
	c, cerr := New(cfg.MemoryEntries, nil, log)
	if cerr != nil {
		if err == nil && backend != nil {
			_ = backend.Close()
		}
		return nil, cerr
	}
	if err != nil {
		c.log.Warn("persistent cache unavailable, using memory only", slog.String("mode", cfg.Mode), slog.String("error", err.Error()))
		return c, nil
	}
	c.backend = backend
	return c, nil
}

// Get returns a copy of the cached timing table for key. Backend errors are
// logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]alignment.Result, bool) {
	if c == nil {
		return nil, false
	}
	if res, ok := c.mem.Get(key); ok {
		c.record(ctx, "memory")
		return clone(res), true
	}
	if c.backend == nil {
		c.record(ctx, "miss")
		return nil, false
	}
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache backend read failed", slog.String("key", key), slog.String("error", err.Error()))
		c.record(ctx, "error")
		return nil, false
	}
	if !ok {
		c.record(ctx, "miss")
		return nil, false
	}
	res, err := decode(data)
	if err != nil {
		c.log.Warn("cache entry unreadable", slog.String("key", key), slog.String("error", err.Error()))
		c.record(ctx, "error")
		return nil, false
	}
	c.mem.Add(key, res)
	c.record(ctx, "persistent")
	return clone(res), true
}

// Put stores results under key. Persistence failures are logged only.
func (c *Cache) Put(ctx context.Context, key string, results []alignment.Result) {
	if c == nil {
		return
	}
	stored := clone(results)
	c.mem.Add(key, stored)
	if c.backend == nil {
		return
	}
	data, err := encode(stored)
	if err != nil {
		c.log.Warn("cache entry encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := c.backend.Set(ctx, key, data); err != nil {
		c.log.Warn("cache backend write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Len reports the number of entries in the memory tier.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.mem.Len()
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

func (c *Cache) record(ctx context.Context, result string) {
	if c.lookups == nil {
		return
	}
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func clone(in []alignment.Result) []alignment.Result {
	if in == nil {
		return nil
	}
	return append([]alignment.Result(nil), in...)
}
