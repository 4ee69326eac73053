package imageloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Olas/internal/core/imagecache"
)

type mockFetcher struct {
	mu      sync.Mutex
	data    map[string][]byte
	err     error
	calls   int
	release chan struct{}
}

func (m *mockFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	release := m.release
	m.mu.Unlock()

	if release != nil {
		<-release
	}
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.data[rawURL]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockSourceCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMockSourceCache() *mockSourceCache {
	return &mockSourceCache{entries: make(map[string][]byte)}
}

func (m *mockSourceCache) Get(rawURL string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[rawURL]
	return data, ok, nil
}

func (m *mockSourceCache) Set(rawURL string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[rawURL] = data
	return nil
}

func (m *mockSourceCache) Delete(rawURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, rawURL)
	m.deleted = append(m.deleted, rawURL)
	return nil
}

func (m *mockSourceCache) Cleanup() (int, error) { return 0, nil }

const testImageURL = "https://cdn.example.com/photo.png"

func TestNewLoader_NilDependencies(t *testing.T) {
	_, err := NewLoader(nil, NewDecoder(), nil, 8)
	assert.True(t, errors.Is(err, ErrNilDependency))

	_, err = NewLoader(&mockFetcher{}, nil, nil, 8)
	assert.True(t, errors.Is(err, ErrNilDependency))

	_, err = NewLoader(&mockFetcher{}, NewDecoder(), nil, 0)
	assert.True(t, errors.Is(err, ErrInvalidSourceCacheEntries))
}

func TestLoader_Load_DecodesAtWidth(t *testing.T) {
	fetcher := &mockFetcher{data: map[string][]byte{testImageURL: createTestPNG(t, 800, 600)}}
	loader, err := NewLoader(fetcher, NewDecoder(), nil, 8)
	require.NoError(t, err)

	src, err := loader.Load(context.Background(), testImageURL, 400)
	require.NoError(t, err)
	assert.Equal(t, testImageURL, src.URL)
	assert.Equal(t, 400, src.Width)
	assert.Equal(t, 300, src.Height)
	assert.Equal(t, "png", src.Format)
}

func TestLoader_Load_WidthsShareDownload(t *testing.T) {
	fetcher := &mockFetcher{data: map[string][]byte{testImageURL: createTestPNG(t, 800, 600)}}
	loader, err := NewLoader(fetcher, NewDecoder(), nil, 8)
	require.NoError(t, err)

	for _, w := range []imagecache.Width{100, 400, imagecache.Original} {
		_, err := loader.Load(context.Background(), testImageURL, w)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fetcher.callCount())
}

func TestLoader_Load_ConcurrentCallersShareFetch(t *testing.T) {
	fetcher := &mockFetcher{
		data:    map[string][]byte{testImageURL: createTestPNG(t, 200, 200)},
		release: make(chan struct{}),
	}
	loader, err := NewLoader(fetcher, NewDecoder(), nil, 8)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for _, w := range []imagecache.Width{50, 100, 150} {
		wg.Add(1)
		go func(w imagecache.Width) {
			defer wg.Done()
			if _, err := loader.Load(context.Background(), testImageURL, w); err != nil {
				failures.Add(1)
			}
		}(w)
	}

	// Let all three callers join the in-flight fetch before it completes.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, 1, fetcher.callCount())
}

func TestLoader_Load_CallerCancelDoesNotAbortShared(t *testing.T) {
	fetcher := &mockFetcher{
		data:    map[string][]byte{testImageURL: createTestPNG(t, 200, 200)},
		release: make(chan struct{}),
	}
	loader, err := NewLoader(fetcher, NewDecoder(), nil, 8)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = loader.Load(ctx, testImageURL, 100)
	assert.True(t, errors.Is(err, ErrFetchTimeout), "got: %v", err)

	close(fetcher.release)
	src, err := loader.Load(context.Background(), testImageURL, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, src.Width)
	assert.LessOrEqual(t, fetcher.callCount(), 2)
}

func TestLoader_Load_FetchError(t *testing.T) {
	fetcher := &mockFetcher{err: ErrFetchFailed}
	loader, err := NewLoader(fetcher, NewDecoder(), nil, 8)
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), testImageURL, 100)
	assert.True(t, errors.Is(err, ErrFetchFailed))
}

func TestLoader_Load_DiskCacheHit(t *testing.T) {
	disk := newMockSourceCache()
	require.NoError(t, disk.Set(testImageURL, createTestJPEG(t, 300, 150)))

	fetcher := &mockFetcher{}
	loader, err := NewLoader(fetcher, NewDecoder(), disk, 8)
	require.NoError(t, err)

	src, err := loader.Load(context.Background(), testImageURL, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, src.Width)
	assert.Equal(t, 50, src.Height)
	assert.Equal(t, 0, fetcher.callCount())
}

func TestLoader_Load_WritesThroughToDisk(t *testing.T) {
	data := createTestPNG(t, 64, 64)
	disk := newMockSourceCache()
	loader, err := NewLoader(&mockFetcher{data: map[string][]byte{testImageURL: data}}, NewDecoder(), disk, 8)
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), testImageURL, imagecache.Original)
	require.NoError(t, err)

	stored, found, err := disk.Get(testImageURL)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, data, stored)
}

func TestLoader_Load_UndecodableSourceIsDropped(t *testing.T) {
	disk := newMockSourceCache()
	fetcher := &mockFetcher{data: map[string][]byte{testImageURL: []byte("garbage")}}
	loader, err := NewLoader(fetcher, NewDecoder(), disk, 8)
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), testImageURL, 100)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat), "got: %v", err)
	assert.Contains(t, disk.deleted, testImageURL)

	// Retry downloads again instead of reusing the bad bytes.
	_, _ = loader.Load(context.Background(), testImageURL, 100)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestLoader_DrivesStore(t *testing.T) {
	data := createTestPNG(t, 640, 480)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 0
	loader, stop, err := NewFromConfig(cfg)
	require.NoError(t, err)
	defer stop()

	storeCfg := imagecache.DefaultConfig()
	storeCfg.DebounceWindow = time.Millisecond
	store, err := imagecache.NewStore(loader, storeCfg)
	require.NoError(t, err)
	defer store.Close()

	rawURL := server.URL + "/photo.png"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, w := range []imagecache.Width{160, 320} {
		var r *imagecache.Rendition
		err := store.WithPreload(ctx, imagecache.PreloadOptions{URL: rawURL, ReqWidth: w}, func(ctx context.Context, l *imagecache.Lease) error {
			var waitErr error
			r, waitErr = l.Wait(ctx)
			return waitErr
		})
		require.NoError(t, err)
		require.NotNil(t, r)
		require.NotNil(t, r.Source)
		assert.Equal(t, int(w), r.Source.Width)
	}

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 2, store.Stats().TotalFetched())
}

func TestNewFromConfig_DiskCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiskCachePath = t.TempDir()
	cfg.CleanupInterval = 0

	loader, stop, err := NewFromConfig(cfg)
	require.NoError(t, err)
	defer stop()
	assert.NotNil(t, loader.disk)
}

func TestNewFromConfig_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SourceCacheEntries = 0
	_, _, err := NewFromConfig(cfg)
	assert.True(t, errors.Is(err, ErrInvalidSourceCacheEntries))
}
