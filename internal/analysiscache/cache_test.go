package analysiscache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-narrate/internal/alignment"
	"github.com/loqalabs/loqa-narrate/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sample() []alignment.Result {
	return []alignment.Result{
		{Text: "Hello", Start: 0, End: 0.4, Confidence: 1},
		{Text: "world.", Start: 0.45, End: 1.1, Confidence: 0.8},
	}
}

func TestKeyDependsOnIDAndText(t *testing.T) {
	a := Key("chunk-0", "hello world")
	if a != Key("chunk-0", "hello world") {
		t.Fatal("key must be deterministic")
	}
	if a == Key("chunk-1", "hello world") || a == Key("chunk-0", "hello there") {
		t.Fatal("key must change with id and text")
	}
	// The separator keeps id/text boundaries distinct.
	if Key("ab", "c") == Key("a", "bc") {
		t.Fatal("ambiguous key boundary")
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a)
	}
}

func TestPutGet(t *testing.T) {
	c, err := New(8, nil, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, ok := c.Get(ctx, "absent"); ok {
		t.Fatal("expected miss for absent key")
	}

	c.Put(ctx, "k", sample())
	got, ok := c.Get(ctx, "k")
	if !ok || len(got) != 2 || got[1].Text != "world." {
		t.Fatalf("unexpected entry %+v (ok=%v)", got, ok)
	}
	got[0].Start = 99
	again, _ := c.Get(ctx, "k")
	if again[0].Start != 0 {
		t.Fatal("callers must receive copies")
	}
}

func TestNilCache(t *testing.T) {
	var c *Cache
	c.Put(context.Background(), "k", sample())
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("nil cache should always miss")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := config.CacheConfig{Mode: "sqlite", Path: filepath.Join(t.TempDir(), "cache", "narrate.db"), MemoryEntries: 4}

	first, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	key := Key("chunk-0", "Hello world.")
	first.Put(ctx, key, sample())
	first.Put(ctx, key, sample()[:1])
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	got, ok := second.Get(ctx, key)
	if !ok {
		t.Fatal("expected persistent hit after reopen")
	}
	if len(got) != 1 || got[0].End != 0.4 {
		t.Fatalf("expected overwritten entry, got %+v", got)
	}
	if second.Len() != 1 {
		t.Fatalf("persistent hit should warm the memory tier")
	}
}

func TestOpenEphemeral(t *testing.T) {
	c, err := Open(context.Background(), config.CacheConfig{Mode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if c.backend != nil {
		t.Fatal("ephemeral cache should have no backend")
	}
	if _, err := Open(context.Background(), config.CacheConfig{Mode: "etcd"}, newLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestOpenUnavailableStoreFallsBackToMemory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := config.CacheConfig{Mode: "sqlite", Path: filepath.Join(blocker, "nested", "cache.db")}

	c, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open should degrade, got %v", err)
	}
	defer c.Close()
	if c.backend != nil {
		t.Fatal("expected no persistent backend")
	}

	key := Key("chunk-0", "Hello world.")
	if _, ok := c.Get(context.Background(), key); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put(context.Background(), key, sample())
	if _, ok := c.Get(context.Background(), key); !ok {
		t.Fatal("memory tier should still serve hits")
	}
}

type failingBackend struct{ sets int }

func (f *failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (f *failingBackend) Set(context.Context, string, []byte) error {
	f.sets++
	return errors.New("disk on fire")
}

func (f *failingBackend) Close() error { return nil }

func TestBackendFailureDegradesToMiss(t *testing.T) {
	backend := &failingBackend{}
	c, err := New(4, backend, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("failing backend must read as a miss")
	}
	c.Put(ctx, "k", sample())
	if backend.sets != 1 {
		t.Fatalf("expected write attempt, got %d", backend.sets)
	}
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("memory tier should still serve the entry")
	}
}

type corruptBackend struct{}

func (corruptBackend) Get(context.Context, string) ([]byte, bool, error) {
	return []byte("{not json"), true, nil
}

func (corruptBackend) Set(context.Context, string, []byte) error { return nil }

func (corruptBackend) Close() error { return nil }

func TestCorruptEntryIsMiss(t *testing.T) {
	c, err := New(4, corruptBackend{}, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("corrupt entry must read as a miss")
	}
}
