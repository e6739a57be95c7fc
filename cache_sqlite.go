package structex

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache is a persistent Cache backed by a local sqlite database.
// database/sql serializes access, so it is safe for concurrent use.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (and if needed creates) the cache database at path.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		fingerprint TEXT PRIMARY KEY,
		result      TEXT NOT NULL,
		provider    TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Get(fingerprint string) (*CacheEntry, bool) {
	row := c.db.QueryRow(
		`SELECT result, provider, created_at FROM cache_entries WHERE fingerprint = ?`,
		fingerprint,
	)
	var (
		rawResult string
		provider  string
		createdAt int64
	)
	if err := row.Scan(&rawResult, &provider, &createdAt); err != nil {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal([]byte(rawResult), &result); err != nil {
		return nil, false
	}
	return &CacheEntry{
		Fingerprint: fingerprint,
		Result:      result,
		Provider:    provider,
		CreatedAt:   time.Unix(0, createdAt),
	}, true
}

func (c *SQLiteCache) Put(entry *CacheEntry) error {
	raw, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO cache_entries (fingerprint, result, provider, created_at) VALUES (?, ?, ?, ?)`,
		entry.Fingerprint, string(raw), entry.Provider, entry.CreatedAt.UnixNano(),
	)
	return err
}

// Clear removes every cached entry.
func (c *SQLiteCache) Clear() error {
	_, err := c.db.Exec(`DELETE FROM cache_entries`)
	return err
}

// Close releases the underlying database handle.
func (c *SQLiteCache) Close() error { return c.db.Close() }
