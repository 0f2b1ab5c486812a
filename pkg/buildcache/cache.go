// Package buildcache keeps compiled objects in a SQLite database keyed by
// the content hash of their source unit, target and signatures.
package buildcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/hackwasm/compiler"
)

var log = commonlog.GetLogger("hackwasm.buildcache")

// EnvPath overrides the default database location.
const EnvPath = "HACKWASM_CACHE"

// Cache is a compiler.ObjectCache backed by SQLite. It is safe for
// concurrent use.
type Cache struct {
	db   *sql.DB
	path string

	hits   atomic.Int64
	misses atomic.Int64
}

var _ compiler.ObjectCache = (*Cache)(nil)

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	// One connection keeps the pragma below in force for every query.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS objects (
		key     TEXT PRIMARY KEY,
		data    BLOB NOT NULL,
		stored  INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	log.Debugf("opened object cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// DefaultPath returns $HACKWASM_CACHE, or objects.db in the user cache
// directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("getting cache dir: %w", err)
	}
	return filepath.Join(dir, "hackwasm", "objects.db"), nil
}

// OpenDefault opens the cache at DefaultPath.
func OpenDefault() (*Cache, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Path returns the database file.
func (c *Cache) Path() string {
	return c.path
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the object stored under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, "SELECT data FROM objects WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying object: %w", err)
	}
	c.hits.Add(1)
	return data, true, nil
}

// Put stores data under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO objects (key, data, stored) VALUES (?, ?, ?)",
		key, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving object: %w", err)
	}
	return nil
}

// Len returns the number of stored objects.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM objects").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting objects: %w", err)
	}
	return n, nil
}

// Prune deletes objects stored before cutoff and returns how many were
// removed.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM objects WHERE stored < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning objects: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("pruned %d objects from %s", n, c.path)
	}
	return n, nil
}

// Clear deletes every object.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM objects"); err != nil {
		return fmt.Errorf("clearing objects: %w", err)
	}
	return nil
}

// Stats returns the lookups answered and missed since Open.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
