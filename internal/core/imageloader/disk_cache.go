package imageloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrEmptyURL is returned when a disk cache operation is given an empty URL
	ErrEmptyURL = errors.New("image URL is empty")
	// ErrInvalidCacheBasePath is returned when the cache base path is empty
	ErrInvalidCacheBasePath = errors.New("cache base path cannot be empty")
	// ErrInvalidCacheMaxSize is returned when maxSizeMB is not positive
	ErrInvalidCacheMaxSize = errors.New("cache max size must be positive")
)

// SourceCache stores downloaded source bytes by URL.
type SourceCache interface {
	Get(rawURL string) ([]byte, bool, error)
	Set(rawURL string, data []byte) error
	Delete(rawURL string) error
	// Cleanup runs TTL cleanup then LRU eviction and returns the number of entries removed.
	Cleanup() (int, error)
}

// DiskCache implements SourceCache on the filesystem.
// Layout: {basePath}/{hash[0:2]}/{hash} where hash is the hex SHA-256 of
// the URL, so arbitrary URLs never reach the filesystem as path components.
type DiskCache struct {
	basePath  string
	maxSizeMB int
	ttlDays   int
}

// NewDiskCache creates a DiskCache rooted at basePath.
// ttlDays of 0 disables TTL-based cleanup (only LRU eviction applies).
func NewDiskCache(basePath string, maxSizeMB int, ttlDays int) (*DiskCache, error) {
	if basePath == "" {
		return nil, ErrInvalidCacheBasePath
	}
	if maxSizeMB <= 0 {
		return nil, ErrInvalidCacheMaxSize
	}
	if ttlDays < 0 {
		return nil, ErrInvalidDiskCacheTTL
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{
		basePath:  basePath,
		maxSizeMB: maxSizeMB,
		ttlDays:   ttlDays,
	}, nil
}

func (c *DiskCache) cachePath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(c.basePath, name[:2], name)
}

// Get returns the cached bytes for rawURL. A miss is (nil, false, nil).
// Hits refresh the file's modification time for LRU tracking.
func (c *DiskCache) Get(rawURL string) ([]byte, bool, error) {
	if rawURL == "" {
		return nil, false, ErrEmptyURL
	}

	path := c.cachePath(rawURL)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	now := time.Now()
	if chtimesErr := os.Chtimes(path, now, now); chtimesErr != nil {
		slog.Warn("[IMAGE-LOADER] failed to update mtime for LRU tracking",
			"path", path,
			"error", chtimesErr,
		)
	}
	return data, true, nil
}

// Set stores data for rawURL. The write goes through a temp file and a
// rename so readers never see a partial file.
func (c *DiskCache) Set(rawURL string, data []byte) error {
	if rawURL == "" {
		return ErrEmptyURL
	}

	path := c.cachePath(rawURL)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Delete removes rawURL from the cache. Missing entries are not an error.
func (c *DiskCache) Delete(rawURL string) error {
	if rawURL == "" {
		return ErrEmptyURL
	}
	err := os.Remove(c.cachePath(rawURL))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type diskEntry struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *DiskCache) scan() ([]diskEntry, int64, error) {
	var entries []diskEntry
	var total int64

	err := filepath.WalkDir(c.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			slog.Warn("[IMAGE-LOADER] failed to stat file during cache scan",
				"path", path,
				"error", err,
			)
			return nil
		}
		entries = append(entries, diskEntry{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, 0, err
	}
	return entries, total, nil
}

// Size returns the current cache size in bytes.
func (c *DiskCache) Size() (int64, error) {
	_, total, err := c.scan()
	return total, err
}

// EvictLRU removes the least recently used entries until the cache fits
// its size limit. Returns the number of entries removed.
func (c *DiskCache) EvictLRU() (int, error) {
	entries, total, err := c.scan()
	if err != nil {
		return 0, err
	}

	maxBytes := int64(c.maxSizeMB) * 1024 * 1024
	if total <= maxBytes {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.Before(entries[j].modTime)
	})

	removed := 0
	for _, e := range entries {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(e.path); err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("[IMAGE-LOADER] failed to evict cache entry",
					"path", e.path,
					"error", err,
				)
			}
			continue
		}
		total -= e.size
		removed++
	}

	if removed > 0 {
		slog.Info("[IMAGE-LOADER] LRU eviction completed",
			"entries_removed", removed,
			"new_size_bytes", total,
			"max_size_bytes", maxBytes,
		)
	}
	return removed, nil
}

// CleanExpired removes entries older than the TTL. A zero TTL disables it.
func (c *DiskCache) CleanExpired() (int, error) {
	if c.ttlDays <= 0 {
		return 0, nil
	}

	entries, _, err := c.scan()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -c.ttlDays)
	removed := 0
	for _, e := range entries {
		if e.modTime.After(cutoff) {
			continue
		}
		if err := os.Remove(e.path); err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("[IMAGE-LOADER] failed to remove expired cache entry",
					"path", e.path,
					"error", err,
				)
			}
			continue
		}
		removed++
	}

	if removed > 0 {
		slog.Info("[IMAGE-LOADER] TTL cleanup completed",
			"entries_removed", removed,
			"ttl_days", c.ttlDays,
		)
	}
	return removed, nil
}

// Cleanup runs TTL cleanup, then LRU eviction if still over the limit.
func (c *DiskCache) Cleanup() (int, error) {
	ttlRemoved, err := c.CleanExpired()
	if err != nil {
		return 0, err
	}
	lruRemoved, err := c.EvictLRU()
	if err != nil {
		return ttlRemoved, err
	}
	return ttlRemoved + lruRemoved, nil
}

// StartCleanupJob runs Cleanup every interval until the returned cancel
// function is called. A non-positive interval starts nothing.
func (c *DiskCache) StartCleanupJob(interval time.Duration) context.CancelFunc {
	if interval <= 0 {
		slog.Info("[IMAGE-LOADER] disk cache cleanup job disabled (interval=0)")
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("[IMAGE-LOADER] CRITICAL: disk cache cleanup job panicked",
					"panic", r,
				)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("[IMAGE-LOADER] disk cache cleanup job started",
			"interval", interval,
			"ttl_days", c.ttlDays,
			"max_size_mb", c.maxSizeMB,
		)

		for {
			select {
			case <-ctx.Done():
				slog.Info("[IMAGE-LOADER] disk cache cleanup job stopped")
				return
			case <-ticker.C:
				removed, err := c.Cleanup()
				if err != nil {
					slog.Error("[IMAGE-LOADER] disk cache cleanup error", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("[IMAGE-LOADER] disk cache cleanup completed", "entries_removed", removed)
				}
			}
		}
	}()

	return cancel
}
