// Package store persists compiled chunks in a SQLite database so unchanged
// source is not recompiled.
//
// Entries are keyed by the SHA-256 of the source text and hold the chunk's
// CBOR image. Images written by an older bytecode version are treated as
// misses.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/servo/pkg/bytecode"
)

var log = commonlog.GetLogger("servo.store")

// ErrNotFound indicates no usable cache entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

const schema = `CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	version    INTEGER NOT NULL,
	image      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	hits       INTEGER NOT NULL DEFAULT 0
)`

// Cache is a compiled-chunk cache backed by SQLite. It is safe for
// concurrent use.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Stats summarizes cache contents.
type Stats struct {
	Entries int64 // Rows in the cache
	Bytes   int64 // Total size of stored images
	Hits    int64 // Successful lookups across all entries
}

// Key returns the cache key for source.
func Key(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Open opens or creates the cache database at path. Parent directories are
// created as needed; ":memory:" opens a private in-memory cache.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating cache directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Path returns the database path the cache was opened with.
func (c *Cache) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the chunk stored under key. Entries from another bytecode
// version and entries whose image fails validation are removed and
// reported as ErrNotFound.
func (c *Cache) Get(key string) (*bytecode.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		id      string
		version int
		image   []byte
	)
	err := c.db.QueryRow("SELECT id, version, image FROM chunks WHERE key = ?", key).Scan(&id, &version, &image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying cache: %w", err)
	}

	if version != int(bytecode.BytecodeVersion) {
		log.Infof("dropping cache entry %s from bytecode version %d", id, version)
		return nil, c.evict(id)
	}

	chunk, err := bytecode.UnmarshalChunk(image)
	if err != nil {
		log.Warningf("dropping corrupt cache entry %s: %v", id, err)
		return nil, c.evict(id)
	}

	if _, err := c.db.Exec("UPDATE chunks SET hits = hits + 1 WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("recording cache hit: %w", err)
	}
	return chunk, nil
}

// evict deletes an unusable entry and returns ErrNotFound.
func (c *Cache) evict(id string) error {
	if _, err := c.db.Exec("DELETE FROM chunks WHERE id = ?", id); err != nil {
		return fmt.Errorf("evicting cache entry: %w", err)
	}
	return ErrNotFound
}

// Put stores chunk under key, replacing any existing entry.
func (c *Cache) Put(key string, chunk *bytecode.Chunk) error {
	image, err := bytecode.MarshalChunk(chunk)
	if err != nil {
		return fmt.Errorf("encoding chunk: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(
		`INSERT INTO chunks (id, key, version, image, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET version = excluded.version, image = excluded.image,
			created_at = excluded.created_at, hits = 0`,
		uuid.NewString(), key, int(bytecode.BytecodeVersion), image, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving chunk: %w", err)
	}
	return nil
}

// GetOrCompile returns the cached chunk for source, compiling and storing it
// on a miss. hit reports whether the chunk came from the cache. Compile
// errors are returned unchanged and nothing is stored. A cache that cannot
// be read is bypassed: source is compiled directly and the failure logged.
func (c *Cache) GetOrCompile(source string, compile func(string) (*bytecode.Chunk, error)) (chunk *bytecode.Chunk, hit bool, err error) {
	key := Key(source)
	chunk, err = c.Get(key)
	if err == nil {
		log.Debugf("cache hit %s", key[:12])
		return chunk, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		log.Warningf("cache read failed, compiling without cache: %v", err)
		chunk, err = compile(source)
		if err != nil {
			return nil, false, err
		}
		return chunk, false, nil
	}

	chunk, err = compile(source)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(key, chunk); err != nil {
		log.Warningf("cache write failed: %v", err)
	}
	return chunk, false, nil
}

// Purge deletes every entry and returns how many were removed.
func (c *Cache) Purge() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM chunks")
	if err != nil {
		return 0, fmt.Errorf("purging cache: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports the number of entries, stored bytes and total hits.
func (c *Cache) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	err := c.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(length(image)), 0), COALESCE(SUM(hits), 0) FROM chunks",
	).Scan(&s.Entries, &s.Bytes, &s.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("reading cache stats: %w", err)
	}
	return s, nil
}
