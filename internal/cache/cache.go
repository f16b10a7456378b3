// Package cache stores raw HTTP response bodies on disk, keyed by request
// identity and bounded by a TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/clock"
	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/metrics"
)

const entrySuffix = ".json"

// Entry is one cached response.
type Entry struct {
	Key         string    `json:"key"`
	URL         string    `json:"url,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Config locates the cache on disk.
type Config struct {
	Dir string
	// TTL applies to Put calls that pass ttl <= 0. With a zero TTL such
	// calls store nothing.
	TTL time.Duration
}

// FileCache is a directory of JSON entry files. Entries are written to a temp
// file and renamed into place, so readers never see partial writes.
type FileCache struct {
	dir    string
	ttl    time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

// Option customizes a FileCache.
type Option func(*FileCache)

// WithClock overrides the clock used for TTL checks.
func WithClock(c clock.Clock) Option {
	return func(f *FileCache) {
		f.clock = clock.OrSystem(c)
	}
}

// WithLogger sets the logger used for degraded-path warnings.
func WithLogger(l *zap.Logger) Option {
	return func(f *FileCache) {
		f.logger = logging.OrNop(l)
	}
}

// New creates the cache directory if needed.
func New(cfg Config, opts ...Option) (*FileCache, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", cfg.Dir, err)
	}
	c := &FileCache{
		dir:    cfg.Dir,
		ttl:    cfg.TTL,
		clock:  clock.System{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *FileCache) Dir() string {
	return c.dir
}

// Get returns the fresh entry stored under key. Expired and unreadable
// entries are removed and reported as a miss.
func (c *FileCache) Get(_ context.Context, key string) (Entry, bool) {
	if c == nil || !validKey(key) {
		return Entry{}, false
	}
	path := c.path(key)
	data, info, err := readEntryFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
			metrics.ObserveCacheLookup("error")
		} else {
			metrics.ObserveCacheLookup("miss")
		}
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Key != key {
		c.logger.Warn("removing corrupt cache entry", zap.String("path", path), zap.Error(err))
		c.removeIfUnchanged(path, info)
		metrics.ObserveCacheLookup("error")
		return Entry{}, false
	}
	if entry.Expired(c.clock.Now()) {
		c.removeIfUnchanged(path, info)
		metrics.ObserveCacheLookup("expired")
		return Entry{}, false
	}
	metrics.ObserveCacheLookup("hit")
	return entry, true
}

// Put stores entry under key for ttl, or for the configured TTL when ttl <= 0.
func (c *FileCache) Put(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if !validKey(key) {
		return fmt.Errorf("invalid cache key %q", key)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if ttl <= 0 {
		return nil
	}
	now := c.clock.Now()
	entry.Key = key
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// Sweep removes expired and corrupt entries and returns how many were removed.
func (c *FileCache) Sweep(ctx context.Context) (int, error) {
	now := c.clock.Now()
	return c.walk(ctx, func(path string) bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return true
		}
		return entry.Expired(now)
	})
}

// Clear removes every entry and returns how many were removed.
func (c *FileCache) Clear(ctx context.Context) (int, error) {
	return c.walk(ctx, func(string) bool { return true })
}

func (c *FileCache) walk(ctx context.Context, shouldRemove func(path string) bool) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("list cache dir: %w", err)
	}
	removed := 0
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return removed, fmt.Errorf("cache walk canceled: %w", err)
		}
		if de.IsDir() || !strings.HasSuffix(de.Name(), entrySuffix) {
			continue
		}
		path := filepath.Join(c.dir, de.Name())
		if !shouldRemove(path) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cache remove failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// validKey keeps keys to a single safe path element.
func validKey(key string) bool {
	if key == "" || len(key) > 128 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+entrySuffix)
}

func readEntryFile(path string) ([]byte, fs.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// removeIfUnchanged deletes path only while it is still the file described by
// read. A Put renames a new file into place, so a fresh entry written since
// the read is kept.
func (c *FileCache) removeIfUnchanged(path string, read fs.FileInfo) {
	current, err := os.Stat(path)
	if err != nil || !os.SameFile(read, current) {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("cache remove failed", zap.String("path", path), zap.Error(err))
	}
}
