package imageloader

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "zero fetch timeout", mutate: func(c *Config) { c.FetchTimeout = 0 }, wantErr: ErrInvalidFetchTimeout},
		{name: "zero max source size", mutate: func(c *Config) { c.MaxSourceSizeMB = 0 }, wantErr: ErrInvalidMaxSourceSize},
		{name: "negative rate", mutate: func(c *Config) { c.RequestsPerSecond = -1 }, wantErr: ErrInvalidRateLimit},
		{name: "negative burst", mutate: func(c *Config) { c.Burst = -1 }, wantErr: ErrInvalidRateLimit},
		{name: "zero rate disables limiting", mutate: func(c *Config) { c.RequestsPerSecond = 0 }},
		{name: "zero source cache", mutate: func(c *Config) { c.SourceCacheEntries = 0 }, wantErr: ErrInvalidSourceCacheEntries},
		{name: "negative ttl", mutate: func(c *Config) { c.DiskCacheTTLDays = -1 }, wantErr: ErrInvalidDiskCacheTTL},
		{
			name:    "disk path without size",
			mutate:  func(c *Config) { c.DiskCachePath = "/tmp/images"; c.DiskCacheMaxMB = 0 },
			wantErr: ErrInvalidDiskCacheMaxMB,
		},
		{name: "size ignored without disk path", mutate: func(c *Config) { c.DiskCacheMaxMB = 0 }},
		{name: "negative host threshold", mutate: func(c *Config) { c.HostFailureThreshold = -1 }, wantErr: ErrInvalidHostBreaker},
		{name: "host breaker without open duration", mutate: func(c *Config) { c.HostOpenDuration = 0 }, wantErr: ErrInvalidHostBreaker},
		{name: "host breaker disabled", mutate: func(c *Config) { c.HostFailureThreshold = 0; c.HostOpenDuration = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got: %v", err)
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("IMAGE_LOADER_FETCH_TIMEOUT_SECONDS", "12")
	t.Setenv("IMAGE_LOADER_MAX_SOURCE_SIZE_MB", "4")
	t.Setenv("IMAGE_LOADER_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("IMAGE_LOADER_BURST", "3")
	t.Setenv("IMAGE_LOADER_SOURCE_CACHE_ENTRIES", "16")
	t.Setenv("IMAGE_LOADER_DISK_CACHE_PATH", "/var/cache/olas")
	t.Setenv("IMAGE_LOADER_DISK_CACHE_MAX_MB", "256")
	t.Setenv("IMAGE_LOADER_DISK_CACHE_TTL_DAYS", "0")
	t.Setenv("IMAGE_LOADER_CLEANUP_INTERVAL_MINUTES", "15")
	t.Setenv("IMAGE_LOADER_HOST_FAILURE_THRESHOLD", "0")
	t.Setenv("IMAGE_LOADER_HOST_OPEN_SECONDS", "90")

	cfg := ConfigFromEnv()

	assert.Equal(t, 12*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 4, cfg.MaxSourceSizeMB)
	assert.Equal(t, 2.5, cfg.RequestsPerSecond)
	assert.Equal(t, 3, cfg.Burst)
	assert.Equal(t, 16, cfg.SourceCacheEntries)
	assert.Equal(t, "/var/cache/olas", cfg.DiskCachePath)
	assert.Equal(t, 256, cfg.DiskCacheMaxMB)
	assert.Equal(t, 0, cfg.DiskCacheTTLDays)
	assert.Equal(t, 15*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 0, cfg.HostFailureThreshold)
	assert.Equal(t, 90*time.Second, cfg.HostOpenDuration)
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromEnv_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("IMAGE_LOADER_FETCH_TIMEOUT_SECONDS", "-5")
	t.Setenv("IMAGE_LOADER_MAX_SOURCE_SIZE_MB", "0")
	t.Setenv("IMAGE_LOADER_REQUESTS_PER_SECOND", "fast")
	t.Setenv("IMAGE_LOADER_SOURCE_CACHE_ENTRIES", "many")
	t.Setenv("IMAGE_LOADER_CLEANUP_INTERVAL_MINUTES", "-1")

	cfg := ConfigFromEnv()
	def := DefaultConfig()

	assert.Equal(t, def.FetchTimeout, cfg.FetchTimeout)
	assert.Equal(t, def.MaxSourceSizeMB, cfg.MaxSourceSizeMB)
	assert.Equal(t, def.RequestsPerSecond, cfg.RequestsPerSecond)
	assert.Equal(t, def.SourceCacheEntries, cfg.SourceCacheEntries)
	assert.Equal(t, def.CleanupInterval, cfg.CleanupInterval)
}
