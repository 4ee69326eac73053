// Package imageloader fetches and decodes images for the image cache.
//
// A Loader combines:
//   - Fetcher: HTTP download with a size cap and outbound rate limiting
//   - a bounded in-memory cache of source bytes, so every width requested
//     for one URL shares a single download
//   - an optional on-disk cache of source bytes with TTL and LRU cleanup
//   - Decoder: decode and downscale to the requested width
package imageloader

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"Olas/internal/core/imagecache"
)

// Loader implements imagecache.Loader.
type Loader struct {
	fetcher Fetcher
	decoder Decoder
	disk    SourceCache
	sources *lru.Cache[string, []byte]
	group   singleflight.Group
}

var _ imagecache.Loader = (*Loader)(nil)

// NewLoader creates a Loader. disk may be nil to skip the on-disk tier.
func NewLoader(fetcher Fetcher, decoder Decoder, disk SourceCache, sourceEntries int) (*Loader, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher", ErrNilDependency)
	}
	if decoder == nil {
		return nil, fmt.Errorf("%w: decoder", ErrNilDependency)
	}
	if sourceEntries <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSourceCacheEntries, sourceEntries)
	}

	sources, err := lru.New[string, []byte](sourceEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create source cache: %w", err)
	}

	return &Loader{
		fetcher: fetcher,
		decoder: decoder,
		disk:    disk,
		sources: sources,
	}, nil
}

// NewFromConfig wires an HTTP fetcher, the default decoder and, when
// DiskCachePath is set, a disk cache with its cleanup job. The returned stop
// function ends the cleanup job.
func NewFromConfig(cfg Config) (*Loader, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid image loader config: %w", err)
	}

	stop := func() {}
	var disk SourceCache
	if cfg.DiskCachePath != "" {
		dc, err := NewDiskCache(cfg.DiskCachePath, cfg.DiskCacheMaxMB, cfg.DiskCacheTTLDays)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create disk cache: %w", err)
		}
		disk = dc
		stop = dc.StartCleanupJob(cfg.CleanupInterval)
	}

	loader, err := NewLoader(NewHTTPFetcher(cfg), NewDecoder(), disk, cfg.SourceCacheEntries)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return loader, stop, nil
}

// Load fetches rawURL (or reuses its cached bytes) and decodes it at width.
func (l *Loader) Load(ctx context.Context, rawURL string, width imagecache.Width) (*imagecache.ImageSource, error) {
	data, err := l.source(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	src, err := l.decoder.Decode(data, width)
	if err != nil {
		// Corrupt bytes should not be served to the next width.
		l.sources.Remove(rawURL)
		if l.disk != nil {
			if delErr := l.disk.Delete(rawURL); delErr != nil {
				slog.Warn("[IMAGE-LOADER] failed to drop undecodable source from disk cache",
					"url", rawURL,
					"error", delErr,
				)
			}
		}
		return nil, err
	}
	src.URL = rawURL
	return src, nil
}

// source returns the raw bytes for rawURL. Concurrent callers for the same
// URL share one download. The download is detached from any single caller's
// cancellation; the HTTP client timeout still bounds it.
func (l *Loader) source(ctx context.Context, rawURL string) ([]byte, error) {
	if data, ok := l.sources.Get(rawURL); ok {
		return data, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(rawURL, func() (interface{}, error) {
		if data, ok := l.sources.Get(rawURL); ok {
			return data, nil
		}

		if l.disk != nil {
			data, found, err := l.disk.Get(rawURL)
			if err != nil {
				slog.Warn("[IMAGE-LOADER] disk cache read error, falling back to fetch",
					"url", rawURL,
					"error", err,
				)
			}
			if found {
				l.sources.Add(rawURL, data)
				return data, nil
			}
		}

		data, err := l.fetcher.Fetch(detached, rawURL)
		if err != nil {
			return nil, err
		}
		l.sources.Add(rawURL, data)

		if l.disk != nil {
			if err := l.disk.Set(rawURL, data); err != nil {
				slog.Error("[IMAGE-LOADER] disk cache write failed",
					"url", rawURL,
					"error", err,
				)
			}
		}

		slog.Debug("[IMAGE-LOADER] fetched source image",
			"url", rawURL,
			"size_bytes", len(data),
		)
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrFetchTimeout, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}
