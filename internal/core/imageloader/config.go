package imageloader

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config validation errors
var (
	// ErrInvalidFetchTimeout is returned when FetchTimeout is not positive
	ErrInvalidFetchTimeout = errors.New("FetchTimeout must be positive")
	// ErrInvalidMaxSourceSize is returned when MaxSourceSizeMB is not positive
	ErrInvalidMaxSourceSize = errors.New("MaxSourceSizeMB must be positive")
	// ErrInvalidRateLimit is returned when RequestsPerSecond or Burst is negative
	ErrInvalidRateLimit = errors.New("RequestsPerSecond and Burst cannot be negative")
	// ErrInvalidSourceCacheEntries is returned when SourceCacheEntries is not positive
	ErrInvalidSourceCacheEntries = errors.New("SourceCacheEntries must be positive")
	// ErrInvalidDiskCacheMaxMB is returned when DiskCacheMaxMB is not positive while a disk cache path is set
	ErrInvalidDiskCacheMaxMB = errors.New("DiskCacheMaxMB must be positive when DiskCachePath is set")
	// ErrInvalidDiskCacheTTL is returned when DiskCacheTTLDays is negative
	ErrInvalidDiskCacheTTL = errors.New("DiskCacheTTLDays cannot be negative")
	// ErrInvalidHostBreaker is returned when the host circuit breaker settings are invalid
	ErrInvalidHostBreaker = errors.New("HostFailureThreshold cannot be negative and HostOpenDuration must be positive when enabled")
)

// Config holds the configuration for the HTTP image loader.
type Config struct {
	// FetchTimeout bounds a single HTTP request.
	FetchTimeout time.Duration

	// MaxSourceSizeMB is the maximum accepted size of a source image.
	MaxSourceSizeMB int

	// RequestsPerSecond limits outbound requests. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the number of requests allowed above the steady rate.
	Burst int

	// SourceCacheEntries is the number of downloaded source images kept in
	// memory so several widths of one URL share a single download.
	SourceCacheEntries int

	// DiskCachePath enables an on-disk source cache when non-empty.
	DiskCachePath string

	// DiskCacheMaxMB is the maximum size of the disk cache.
	DiskCacheMaxMB int

	// DiskCacheTTLDays is the maximum age of disk cache entries.
	// Set to 0 to disable TTL-based cleanup (only LRU eviction applies).
	DiskCacheTTLDays int

	// CleanupInterval is how often the disk cache is trimmed.
	// Set to 0 to disable background cleanup.
	CleanupInterval time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// HostFailureThreshold is the number of consecutive failures after which
	// requests to a host short-circuit with ErrHostUnavailable.
	// Set to 0 to disable the circuit breaker.
	HostFailureThreshold int

	// HostOpenDuration is how long a failing host is skipped before one
	// probe request is let through.
	HostOpenDuration time.Duration
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFetchTimeout, c.FetchTimeout)
	}
	if c.MaxSourceSizeMB <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxSourceSize, c.MaxSourceSizeMB)
	}
	if c.RequestsPerSecond < 0 || c.Burst < 0 {
		return fmt.Errorf("%w: got rate=%v burst=%d", ErrInvalidRateLimit, c.RequestsPerSecond, c.Burst)
	}
	if c.SourceCacheEntries <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSourceCacheEntries, c.SourceCacheEntries)
	}
	if c.DiskCacheTTLDays < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidDiskCacheTTL, c.DiskCacheTTLDays)
	}
	if c.DiskCachePath != "" && c.DiskCacheMaxMB <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidDiskCacheMaxMB, c.DiskCacheMaxMB)
	}
	if c.HostFailureThreshold < 0 || (c.HostFailureThreshold > 0 && c.HostOpenDuration <= 0) {
		return fmt.Errorf("%w: got threshold=%d open=%v", ErrInvalidHostBreaker, c.HostFailureThreshold, c.HostOpenDuration)
	}
	return nil
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:       30 * time.Second,
		MaxSourceSizeMB:    DefaultMaxSourceSizeMB,
		RequestsPerSecond:  20,
		Burst:              10,
		SourceCacheEntries: 64,
		DiskCachePath:      "",
		DiskCacheMaxMB:     512,
		DiskCacheTTLDays:   7,
		CleanupInterval:    1 * time.Hour,
		UserAgent:          "Olas-ImageLoader/1.0",

		HostFailureThreshold: 5,
		HostOpenDuration:     30 * time.Second,
	}
}

// ConfigFromEnv creates a Config from environment variables.
// Uses defaults for any missing environment variables.
//
// Environment variables:
//   - IMAGE_LOADER_FETCH_TIMEOUT_SECONDS: HTTP request timeout (default: 30)
//   - IMAGE_LOADER_MAX_SOURCE_SIZE_MB: max source image size (default: 10)
//   - IMAGE_LOADER_REQUESTS_PER_SECOND: outbound rate limit, 0 disables (default: 20)
//   - IMAGE_LOADER_BURST: rate limit burst (default: 10)
//   - IMAGE_LOADER_SOURCE_CACHE_ENTRIES: in-memory source images (default: 64)
//   - IMAGE_LOADER_DISK_CACHE_PATH: enables the disk cache (default: "", disabled)
//   - IMAGE_LOADER_DISK_CACHE_MAX_MB: disk cache size (default: 512)
//   - IMAGE_LOADER_DISK_CACHE_TTL_DAYS: disk cache entry age, 0 disables (default: 7)
//   - IMAGE_LOADER_CLEANUP_INTERVAL_MINUTES: disk cleanup interval, 0 disables (default: 60)
//   - IMAGE_LOADER_HOST_FAILURE_THRESHOLD: failures before a host is skipped, 0 disables (default: 5)
//   - IMAGE_LOADER_HOST_OPEN_SECONDS: how long a failing host is skipped (default: 30)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	envInt := func(name string, floor int, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		if n, err := strconv.Atoi(v); err == nil && n >= floor {
			*dst = n
		} else {
			slog.Warn("[IMAGE-LOADER] invalid "+name+" value, using default",
				"value", v,
				"default", *dst,
				"error", err,
			)
		}
	}

	if v := os.Getenv("IMAGE_LOADER_FETCH_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FetchTimeout = time.Duration(n) * time.Second
		} else {
			slog.Warn("[IMAGE-LOADER] invalid IMAGE_LOADER_FETCH_TIMEOUT_SECONDS value, using default",
				"value", v,
				"default_seconds", int(cfg.FetchTimeout.Seconds()),
				"error", err,
			)
		}
	}

	envInt("IMAGE_LOADER_MAX_SOURCE_SIZE_MB", 1, &cfg.MaxSourceSizeMB)

	if v := os.Getenv("IMAGE_LOADER_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RequestsPerSecond = f
		} else {
			slog.Warn("[IMAGE-LOADER] invalid IMAGE_LOADER_REQUESTS_PER_SECOND value, using default",
				"value", v,
				"default", cfg.RequestsPerSecond,
				"error", err,
			)
		}
	}

	envInt("IMAGE_LOADER_BURST", 0, &cfg.Burst)
	envInt("IMAGE_LOADER_SOURCE_CACHE_ENTRIES", 1, &cfg.SourceCacheEntries)

	if v := os.Getenv("IMAGE_LOADER_DISK_CACHE_PATH"); v != "" {
		cfg.DiskCachePath = v
	}

	envInt("IMAGE_LOADER_DISK_CACHE_MAX_MB", 1, &cfg.DiskCacheMaxMB)
	envInt("IMAGE_LOADER_DISK_CACHE_TTL_DAYS", 0, &cfg.DiskCacheTTLDays)

	if v := os.Getenv("IMAGE_LOADER_CLEANUP_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CleanupInterval = time.Duration(n) * time.Minute
		} else {
			slog.Warn("[IMAGE-LOADER] invalid IMAGE_LOADER_CLEANUP_INTERVAL_MINUTES value, using default",
				"value", v,
				"default_minutes", int(cfg.CleanupInterval.Minutes()),
				"error", err,
			)
		}
	}

	envInt("IMAGE_LOADER_HOST_FAILURE_THRESHOLD", 0, &cfg.HostFailureThreshold)

	if v := os.Getenv("IMAGE_LOADER_HOST_OPEN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HostOpenDuration = time.Duration(n) * time.Second
		} else {
			slog.Warn("[IMAGE-LOADER] invalid IMAGE_LOADER_HOST_OPEN_SECONDS value, using default",
				"value", v,
				"default_seconds", int(cfg.HostOpenDuration.Seconds()),
				"error", err,
			)
		}
	}

	return cfg
}
