package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache is the disk-backed extraction cache: one JSON file per URL, named
// by the URL's SHA-256. The file's mtime is the TTL reference, so entries
// carry no embedded expiry and survive restarts.
type Cache struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates the cache directory if needed.
func NewCache(dir string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction cache dir: %w", err)
	}
	return &Cache{
		dir:    dir,
		ttl:    ttl,
		logger: logger.With("component", "extract_cache"),
	}, nil
}

// Get returns the cached payload for a URL. Missing, expired, and corrupt
// entries all read as a miss; the next Put overwrites them.
func (c *Cache) Get(rawURL string) (*Payload, bool) {
	path := c.entryPath(rawURL)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) >= c.ttl {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("failed to read cache entry", "url", rawURL, "error", err)
		return nil, false
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warn("corrupt cache entry treated as miss", "url", rawURL, "error", err)
		return nil, false
	}
	return &p, true
}

// Put writes the payload with a temp file and rename so a crash mid-write
// cannot leave a half-entry behind.
func (c *Cache) Put(rawURL string, p *Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	path := c.entryPath(rawURL)
	tmp, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return nil
}

// Purge removes entries older than the given age and reports how many were
// removed. The cleanup service calls this on its retention schedule.
// Leftover temp files are purged on the same terms.
func (c *Cache) Purge(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			c.logger.Warn("failed to remove cache entry", "entry", name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (c *Cache) entryPath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}
