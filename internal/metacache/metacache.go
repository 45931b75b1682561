// Package metacache is a sqlite-backed TTL cache for registry metadata
// responses. Artifact downloads never go through it.
package metacache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS responses (
    url        TEXT PRIMARY KEY,
    body       BLOB NOT NULL,
    fetched_at INTEGER NOT NULL
);
`

type Cache struct {
	mu  sync.Mutex
	db  *sql.DB
	ttl time.Duration
}

func Open(path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata cache: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Cache{db: db, ttl: ttl}, nil
}

// Get returns the cached body for url if it is still fresh.
func (c *Cache) Get(url string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var body []byte
	var fetchedAt int64
	err := c.db.QueryRow("SELECT body, fetched_at FROM responses WHERE url = ?", url).
		Scan(&body, &fetchedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(time.Unix(fetchedAt, 0)) > c.ttl {
		_, _ = c.db.Exec("DELETE FROM responses WHERE url = ?", url)
		return nil, false
	}
	return body, true
}

func (c *Cache) Put(url string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO responses (url, body, fetched_at) VALUES (?, ?, ?)",
		url, body, time.Now().Unix())
	return err
}

// Size sums cached body bytes.
func (c *Cache) Size() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var size sql.NullInt64
	err := c.db.QueryRow("SELECT SUM(LENGTH(body)) FROM responses").Scan(&size)
	if err != nil {
		return 0, err
	}
	return size.Int64, nil
}

func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec("DELETE FROM responses")
	return err
}

func (c *Cache) Close() error {
	return c.db.Close()
}
