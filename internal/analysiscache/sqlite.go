package analysiscache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-narrate/internal/alignment"
)

// entryVersion is bumped whenever the encoded result layout changes.
const entryVersion = 1

type entry struct {
	Version int                `json:"v"`
	Results []alignment.Result `json:"results"`
}

func encode(results []alignment.Result) ([]byte, error) {
	return json.Marshal(entry{Version: entryVersion, Results: results})
}

func decode(data []byte) ([]alignment.Result, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Version != entryVersion {
		return nil, fmt.Errorf("unsupported entry version %d", e.Version)
	}
	return e.Results, nil
}

// SQLiteBackend stores entries in a local SQLite database.
type SQLiteBackend struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, vacuum bool) (*SQLiteBackend, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	b := &SQLiteBackend{db: db, clock: time.Now}
	if err := b.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if vacuum {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			db.Close()
			return nil, fmt.Errorf("vacuum sqlite: %w", err)
		}
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS analysis_cache (
    cache_key TEXT PRIMARY KEY,
    payload BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`
	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM analysis_cache WHERE cache_key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO analysis_cache(cache_key, payload, updated_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		key, value, b.clock().UTC())
	return err
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
