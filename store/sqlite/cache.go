// Package sqlite implements the persistent web tool cache using pure-Go
// SQLite. Zero CGO required. Entries are keyed by a hash of (kind, key)
// and expire after a configurable TTL.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const defaultTTL = 24 * time.Hour

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets a structured logger for the cache. Without it no logs
// are emitted.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// Cache stores web_search and fetch_url results across runs. It satisfies
// the web tool's Cache interface; tool code treats every cache failure as a
// miss, so a broken cache degrades to live fetching.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Cache backed by a local SQLite file at dbPath.
// A single shared connection (SetMaxOpenConns(1)) serialises all writers
// through one handle, eliminating SQLITE_BUSY from concurrent packs.
func New(dbPath string, opts ...CacheOption) *Cache {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	c := &Cache{db: db, ttl: defaultTTL, logger: nopLogger}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Init creates the schema. Idempotent.
func (c *Cache) Init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS web_cache (
	hash       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_web_cache_created ON web_cache(created_at);
`)
	if err != nil {
		return fmt.Errorf("sqlite: init schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *Cache) Close() error { return c.db.Close() }

// hashKey derives the storage key from (kind, key).
func hashKey(kind, key string) string {
	sum := sha256.Sum256([]byte(kind + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value for (kind, key). Expired entries and lookup
// errors are both reported as misses.
func (c *Cache) Get(ctx context.Context, kind, key string) (string, bool) {
	var (
		value   string
		created int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT value, created_at FROM web_cache WHERE hash = ?`,
		hashKey(kind, key)).Scan(&value, &created)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Debug("sqlite: cache get failed", "kind", kind, "error", err)
		}
		return "", false
	}
	if time.Since(time.Unix(created, 0)) > c.ttl {
		return "", false
	}
	return value, true
}

// Set stores a value for (kind, key), replacing any previous entry.
func (c *Cache) Set(ctx context.Context, kind, key, value string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO web_cache (hash, kind, value, created_at) VALUES (?, ?, ?, ?)`,
		hashKey(kind, key), kind, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: cache set: %w", err)
	}
	return nil
}

// Prune removes expired entries. Called opportunistically, never required.
func (c *Cache) Prune(ctx context.Context) error {
	cutoff := time.Now().Add(-c.ttl).Unix()
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM web_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("sqlite: cache prune: %w", err)
	}
	return nil
}
