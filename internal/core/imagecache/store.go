// Package imagecache implements an in-memory image preload cache for
// rendering clients.
//
// The package is organised as:
//   - Store: owns per-URL variations, blurhash placeholders, session stats
//     and change subscriptions
//   - download queues: three FIFO queues (high, normal, low) of pending work
//   - queue processor: bounded-concurrency admission with per-download deadlines
//   - Lease: the acquire/read/release handle consumers hold while they show an image
//
// Fetching and decoding are delegated to a Loader. Nothing is persisted;
// every variation lives until the process exits.
package imagecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Loader fetches and decodes an image at the requested width.
type Loader interface {
	Load(ctx context.Context, url string, width Width) (*ImageSource, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, url string, width Width) (*ImageSource, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, url string, width Width) (*ImageSource, error) {
	return f(ctx, url, width)
}

// Store is the single source of truth for variation status, decoded
// sources, blurhash placeholders and statistics. All mutation goes through
// its methods. A Store is safe for concurrent use.
type Store struct {
	loader Loader
	config Config

	mu      sync.Mutex // protects everything below
	cache   map[string]*CacheEntry
	queues  *downloadQueues
	active  map[QueueKey]*activeDownload
	stats   Stats
	subs    map[string]*Subscription
	closed  bool
	closing chan struct{}

	debounce *debouncer
	inflight sync.WaitGroup
}

// NewStore creates a Store that loads images through loader.
func NewStore(loader Loader, config Config) (*Store, error) {
	if loader == nil {
		return nil, fmt.Errorf("%w: loader", ErrNilDependency)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid image cache config: %w", err)
	}

	s := &Store{
		loader:  loader,
		config:  config,
		cache:   make(map[string]*CacheEntry),
		queues:  newDownloadQueues(),
		active:  make(map[QueueKey]*activeDownload),
		stats:   newStats(),
		subs:    make(map[string]*Subscription),
		closing: make(chan struct{}),
	}
	s.debounce = newDebouncer(config.DebounceWindow, s.ProcessQueue)
	return s, nil
}

// Config returns the configuration the store was built with.
func (s *Store) Config() Config {
	return s.config
}

// AddToQueue registers interest in url at width and queues a download
// unless one is pointless: the variation is already loaded, already being
// downloaded, or already waiting in any queue. A previously failed variation
// may be queued again. Returns whether a task was queued.
//
// A non-empty blurhash is remembered for url when none is known yet, even
// when the download itself is deduplicated.
func (s *Store) AddToQueue(url string, width Width, blurhash string, priority Priority) bool {
	if url == "" {
		return false
	}
	if width < Original {
		width = Original
	}
	if p, err := ParsePriority(string(priority)); err == nil {
		priority = p
	} else {
		priority = PriorityNormal
	}
	key := KeyFor(url, width)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	entry := s.cache[url]
	changed := false
	if entry != nil && blurhash != "" && entry.Blurhash == "" {
		entry.Blurhash = blurhash
		changed = true
	}

	if entry != nil {
		if v := entry.variation(width); v != nil && v.Status == StatusLoaded {
			s.notifyLocked(url, changed)
			return false
		}
	}
	if _, ok := s.active[key]; ok || s.queues.contains(key) {
		s.notifyLocked(url, changed)
		return false
	}

	if entry == nil {
		entry = &CacheEntry{Blurhash: blurhash}
		s.cache[url] = entry
	}
	v := entry.variation(width)
	if v == nil {
		entry.Variations = append(entry.Variations, Variation{ReqWidth: width})
		v = &entry.Variations[len(entry.Variations)-1]
	}
	v.Status = StatusQueued
	v.Source = nil

	s.queues.push(ImageTask{URL: url, ReqWidth: width, Priority: priority, Blurhash: blurhash})

	slog.Debug("[IMAGE-CACHE] queued image",
		"url", url,
		"width", width.String(),
		"priority", priority,
		"queued_total", s.queues.len(),
	)
	s.notifyLocked(url, true)
	return true
}

// RemoveFromQueue cancels a download that has not been admitted yet. It only
// looks in the queue for priority. Downloads already in flight are not
// affected. Returns whether a task was removed.
func (s *Store) RemoveFromQueue(url string, width Width, priority Priority) bool {
	if url == "" {
		return false
	}
	if width < Original {
		width = Original
	}
	if p, err := ParsePriority(string(priority)); err == nil {
		priority = p
	}
	key := KeyFor(url, width)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.queues.remove(key, priority) {
		return false
	}
	if entry := s.cache[url]; entry != nil {
		if v := entry.variation(width); v != nil && v.Status == StatusQueued {
			v.Status = StatusUnknown
		}
	}

	slog.Debug("[IMAGE-CACHE] removed pending image",
		"url", url,
		"width", width.String(),
		"priority", priority,
	)
	s.notifyLocked(url, true)
	return true
}

// Trigger schedules a debounced ProcessQueue. Calls made within the
// debounce window coalesce into one queue pass.
func (s *Store) Trigger() {
	s.debounce.trigger()
}

// Entry returns a copy of the cache entry for url.
func (s *Store) Entry(url string) (CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[url]
	if !ok {
		return CacheEntry{}, false
	}
	return entry.clone(), true
}

// Status returns the lifecycle state of url at width.
func (s *Store) Status(url string, width Width) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(url, width)
}

func (s *Store) statusLocked(url string, width Width) Status {
	if entry := s.cache[url]; entry != nil {
		if v := entry.variation(width); v != nil {
			return v.Status
		}
	}
	return StatusUnknown
}

// Queues returns a copy of the pending download queues.
func (s *Store) Queues() DownloadQueues {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues.snapshot()
}

// ActiveDownloads returns the bookkeeping of every admitted download.
func (s *Store) ActiveDownloads() map[QueueKey]ActiveDownloadMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeMetaLocked()
}

func (s *Store) activeMetaLocked() map[QueueKey]ActiveDownloadMeta {
	out := make(map[QueueKey]ActiveDownloadMeta, len(s.active))
	for key, dl := range s.active {
		out[key] = dl.meta
	}
	return out
}

// Stats returns a copy of the session statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.clone()
}

// Snapshot returns a deep copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache := make(map[string]CacheEntry, len(s.cache))
	for url, entry := range s.cache {
		cache[url] = entry.clone()
	}
	return Snapshot{
		Cache:              cache,
		DownloadQueues:     s.queues.snapshot(),
		ActiveDownloadMeta: s.activeMetaLocked(),
		Stats:              s.stats.clone(),
	}
}

// Close stops the debounce timer, cancels in-flight downloads and waits for
// their goroutines to return. Later enqueues are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.closing)
	for _, dl := range s.active {
		dl.timer.Stop()
		dl.cancel()
	}
	s.mu.Unlock()

	s.debounce.stop()
	s.inflight.Wait()
	slog.Info("[IMAGE-CACHE] store closed")
}

// Subscription delivers change signals for one URL, or for every URL when
// created with an empty url. Signals coalesce: a slow reader sees at least
// one signal after any number of changes.
type Subscription struct {
	id    string
	url   string
	ch    chan struct{}
	store *Store
	once  sync.Once
}

// Subscribe registers for change signals on url. An empty url matches
// every mutation.
func (s *Store) Subscribe(url string) *Subscription {
	sub := &Subscription{
		id:    uuid.NewString(),
		url:   url,
		ch:    make(chan struct{}, 1),
		store: s,
	}
	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()
	return sub
}

// C returns the signal channel.
func (sub *Subscription) C() <-chan struct{} {
	return sub.ch
}

// Close unregisters the subscription. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.subs, sub.id)
		sub.store.mu.Unlock()
	})
}

// notifyLocked signals subscribers of url. It never blocks.
func (s *Store) notifyLocked(url string, changed bool) {
	if !changed {
		return
	}
	for _, sub := range s.subs {
		if sub.url != "" && sub.url != url {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}
