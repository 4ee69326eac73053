package imageloader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mustNewDiskCache is a test helper that creates a DiskCache or fails the test.
// TTL is disabled.
func mustNewDiskCache(t *testing.T, basePath string, maxSizeMB int) *DiskCache {
	t.Helper()
	cache, err := NewDiskCache(basePath, maxSizeMB, 0)
	if err != nil {
		t.Fatalf("NewDiskCache failed: %v", err)
	}
	return cache
}

func TestDiskCache_SetAndGet(t *testing.T) {
	cache := mustNewDiskCache(t, t.TempDir(), 1)

	testData := []byte("test image data")
	rawURL := "https://cdn.example.com/images/cat.jpg?size=large"

	if err := cache.Set(rawURL, testData); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	data, found, err := cache.Get(rawURL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected data to be found in cache")
	}
	if string(data) != string(testData) {
		t.Errorf("Get returned %q, want %q", string(data), string(testData))
	}
}

func TestDiskCache_GetMiss(t *testing.T) {
	cache := mustNewDiskCache(t, t.TempDir(), 1)

	data, found, err := cache.Get("https://cdn.example.com/missing.png")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected cache miss")
	}
	if data != nil {
		t.Errorf("Expected nil data on miss, got %q", data)
	}
}

func TestDiskCache_EmptyURL(t *testing.T) {
	cache := mustNewDiskCache(t, t.TempDir(), 1)

	if _, _, err := cache.Get(""); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("Get: expected ErrEmptyURL, got %v", err)
	}
	if err := cache.Set("", []byte("x")); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("Set: expected ErrEmptyURL, got %v", err)
	}
	if err := cache.Delete(""); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("Delete: expected ErrEmptyURL, got %v", err)
	}
}

func TestDiskCache_PathIsHashed(t *testing.T) {
	tmpDir := t.TempDir()
	cache := mustNewDiskCache(t, tmpDir, 1)

	rawURL := "https://cdn.example.com/../../etc/passwd"
	if err := cache.Set(rawURL, []byte("data")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	path := cache.cachePath(rawURL)
	if !strings.HasPrefix(path, tmpDir) {
		t.Errorf("cache path %q escapes base %q", path, tmpDir)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected cache file at %q: %v", path, err)
	}
}

func TestDiskCache_Delete(t *testing.T) {
	cache := mustNewDiskCache(t, t.TempDir(), 1)
	rawURL := "https://cdn.example.com/a.png"

	if err := cache.Set(rawURL, []byte("data")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Delete(rawURL); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := cache.Get(rawURL); found {
		t.Error("Expected entry to be gone after Delete")
	}
	// Deleting again is not an error
	if err := cache.Delete(rawURL); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestNewDiskCache_Validation(t *testing.T) {
	if _, err := NewDiskCache("", 1, 0); !errors.Is(err, ErrInvalidCacheBasePath) {
		t.Errorf("expected ErrInvalidCacheBasePath, got %v", err)
	}
	if _, err := NewDiskCache(t.TempDir(), 0, 0); !errors.Is(err, ErrInvalidCacheMaxSize) {
		t.Errorf("expected ErrInvalidCacheMaxSize, got %v", err)
	}
	if _, err := NewDiskCache(t.TempDir(), 1, -1); !errors.Is(err, ErrInvalidDiskCacheTTL) {
		t.Errorf("expected ErrInvalidDiskCacheTTL, got %v", err)
	}
}

func TestDiskCache_EvictLRU(t *testing.T) {
	cache := mustNewDiskCache(t, t.TempDir(), 1)

	// Three 400KB entries exceed the 1MB limit.
	chunk := make([]byte, 400*1024)
	urls := []string{
		"https://cdn.example.com/oldest.png",
		"https://cdn.example.com/middle.png",
		"https://cdn.example.com/newest.png",
	}
	base := time.Now().Add(-time.Hour)
	for i, u := range urls {
		if err := cache.Set(u, chunk); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		mt := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(cache.cachePath(u), mt, mt); err != nil {
			t.Fatalf("Chtimes failed: %v", err)
		}
	}

	removed, err := cache.EvictLRU()
	if err != nil {
		t.Fatalf("EvictLRU failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 entry removed, got %d", removed)
	}
	if _, found, _ := cache.Get(urls[0]); found {
		t.Error("expected oldest entry to be evicted")
	}
	if _, found, _ := cache.Get(urls[2]); !found {
		t.Error("expected newest entry to survive")
	}

	size, err := cache.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size > 1024*1024 {
		t.Errorf("cache size %d still exceeds limit", size)
	}
}

func TestDiskCache_CleanExpired(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir(), 10, 1)
	if err != nil {
		t.Fatalf("NewDiskCache failed: %v", err)
	}

	stale := "https://cdn.example.com/stale.png"
	fresh := "https://cdn.example.com/fresh.png"
	for _, u := range []string{stale, fresh} {
		if err := cache.Set(u, []byte("data")); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	old := time.Now().AddDate(0, 0, -2)
	if err := os.Chtimes(cache.cachePath(stale), old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	removed, err := cache.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 entry removed, got %d", removed)
	}
	if _, found, _ := cache.Get(stale); found {
		t.Error("expected stale entry to be removed")
	}
	if _, found, _ := cache.Get(fresh); !found {
		t.Error("expected fresh entry to survive")
	}
}

func TestDiskCache_ScanSkipsTempFiles(t *testing.T) {
	tmpDir := t.TempDir()
	cache := mustNewDiskCache(t, tmpDir, 1)

	if err := os.WriteFile(filepath.Join(tmpDir, "partial.tmp"), make([]byte, 2*1024*1024), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	size, err := cache.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 0 {
		t.Errorf("expected temp files to be ignored, got size %d", size)
	}
}

func TestDiskCache_StartCleanupJob_Disabled(t *testing.T) {
	cache := mustNewDiskCache(t, t.TempDir(), 1)
	stop := cache.StartCleanupJob(0)
	// Must be safe to call
	stop()
}
