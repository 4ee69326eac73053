package imagecache

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
	// ErrInvalidMaxConcurrent is returned when MaxConcurrent is not positive
	ErrInvalidMaxConcurrent = errors.New("MaxConcurrent must be positive")
	// ErrInvalidDownloadTimeout is returned when DownloadTimeout is not positive
	ErrInvalidDownloadTimeout = errors.New("DownloadTimeout must be positive")
	// ErrInvalidDebounceWindow is returned when DebounceWindow is negative
	ErrInvalidDebounceWindow = errors.New("DebounceWindow cannot be negative")
)

const (
	// DefaultMaxConcurrent is the admission cap on simultaneous downloads.
	DefaultMaxConcurrent = 3
	// DefaultDownloadTimeout is the deadline recorded for every admitted download.
	DefaultDownloadTimeout = 15 * time.Second
	// DefaultDebounceWindow coalesces bursts of Trigger calls into one queue pass.
	DefaultDebounceWindow = 50 * time.Millisecond
)

// Config holds the tuning knobs of the store and its queue processor.
type Config struct {
	// MaxConcurrent is the maximum number of downloads in flight at once.
	MaxConcurrent int

	// DownloadTimeout is how long an admitted download may run before it is
	// marked as failed and its slot is handed to the next task.
	DownloadTimeout time.Duration

	// DebounceWindow is how long Trigger waits for further calls before
	// running a queue pass. Zero runs the pass on the next goroutine schedule.
	DebounceWindow time.Duration
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxConcurrent, c.MaxConcurrent)
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDownloadTimeout, c.DownloadTimeout)
	}
	if c.DebounceWindow < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDebounceWindow, c.DebounceWindow)
	}
	return nil
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   DefaultMaxConcurrent,
		DownloadTimeout: DefaultDownloadTimeout,
		DebounceWindow:  DefaultDebounceWindow,
	}
}

// ConfigFromEnv creates a Config from environment variables.
// Uses defaults for any missing or invalid environment variables.
//
// Environment variables:
//   - IMAGE_CACHE_MAX_CONCURRENT: simultaneous downloads (default: 3)
//   - IMAGE_CACHE_DOWNLOAD_TIMEOUT_MS: per-download deadline in ms (default: 15000)
//   - IMAGE_CACHE_DEBOUNCE_MS: trigger coalescing window in ms (default: 50)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("IMAGE_CACHE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		} else {
			slog.Warn("[IMAGE-CACHE] invalid IMAGE_CACHE_MAX_CONCURRENT value, using default",
				"value", v,
				"default", cfg.MaxConcurrent,
				"error", err,
			)
		}
	}

	if v := os.Getenv("IMAGE_CACHE_DOWNLOAD_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DownloadTimeout = time.Duration(n) * time.Millisecond
		} else {
			slog.Warn("[IMAGE-CACHE] invalid IMAGE_CACHE_DOWNLOAD_TIMEOUT_MS value, using default",
				"value", v,
				"default_ms", cfg.DownloadTimeout.Milliseconds(),
				"error", err,
			)
		}
	}

	if v := os.Getenv("IMAGE_CACHE_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.DebounceWindow = time.Duration(n) * time.Millisecond
		} else {
			slog.Warn("[IMAGE-CACHE] invalid IMAGE_CACHE_DEBOUNCE_MS value, using default",
				"value", v,
				"default_ms", cfg.DebounceWindow.Milliseconds(),
				"error", err,
			)
		}
	}

	return cfg
}
