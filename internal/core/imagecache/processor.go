package imagecache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// activeDownload tracks one admitted task. The attempt id guards against a
// late completion or a stale timer touching a newer attempt for the same key.
type activeDownload struct {
	attempt string
	task    ImageTask
	meta    ActiveDownloadMeta
	ctx     context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
}

// ProcessQueue is one scheduler tick. It admits queued tasks, highest
// priority first, until MaxConcurrent downloads are in flight or the queues
// are empty. It never blocks on a download and may be called at any time.
func (s *Store) ProcessQueue() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	var started []*activeDownload
	for len(s.active) < s.config.MaxConcurrent {
		task, ok := s.queues.pop()
		if !ok {
			break
		}
		dl := s.admitLocked(task)
		started = append(started, dl)
	}

	// Goroutines are added to the wait group under the lock so Close cannot
	// miss them.
	s.inflight.Add(len(started))
	s.mu.Unlock()

	for _, dl := range started {
		go s.run(dl)
	}
}

func (s *Store) admitLocked(task ImageTask) *activeDownload {
	key := task.Key()
	entry := s.cache[task.URL]
	if entry == nil {
		entry = &CacheEntry{Blurhash: task.Blurhash}
		s.cache[task.URL] = entry
	}
	v := entry.variation(task.ReqWidth)
	if v == nil {
		entry.Variations = append(entry.Variations, Variation{ReqWidth: task.ReqWidth})
		v = &entry.Variations[len(entry.Variations)-1]
	}
	v.Status = StatusLoading

	meta := ActiveDownloadMeta{StartTime: time.Now(), Timeout: s.config.DownloadTimeout}
	ctx, cancel := context.WithDeadline(context.Background(), meta.Deadline())
	dl := &activeDownload{
		attempt: uuid.NewString(),
		task:    task,
		meta:    meta,
		ctx:     ctx,
		cancel:  cancel,
	}
	dl.timer = time.AfterFunc(meta.Timeout, func() {
		s.expire(key, dl.attempt)
	})
	s.active[key] = dl

	slog.Debug("[IMAGE-CACHE] download started",
		"queue_key", key,
		"priority", task.Priority,
		"active", len(s.active),
		"timeout_ms", meta.Timeout.Milliseconds(),
	)
	s.notifyLocked(task.URL, true)
	return dl
}

func (s *Store) run(dl *activeDownload) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[IMAGE-CACHE] CRITICAL: image loader panicked",
				"queue_key", dl.task.Key(),
				"panic", r,
			)
			s.complete(dl.task.Key(), dl.attempt, nil, errors.New("loader panicked"))
		}
	}()

	src, err := s.loader.Load(dl.ctx, dl.task.URL, dl.task.ReqWidth)
	if err == nil && src == nil {
		err = errors.New("loader returned no image")
	}
	s.complete(dl.task.Key(), dl.attempt, src, err)
}

// complete records the outcome of an attempt and refills the freed slot.
func (s *Store) complete(key QueueKey, attempt string, src *ImageSource, loadErr error) {
	s.mu.Lock()
	dl, ok := s.active[key]
	if !ok || dl.attempt != attempt {
		// The deadline already fired for this attempt.
		s.mu.Unlock()
		return
	}
	dl.timer.Stop()
	dl.cancel()
	delete(s.active, key)

	elapsed := time.Since(dl.meta.StartTime)
	v := s.cache[dl.task.URL].variation(dl.task.ReqWidth)
	if loadErr != nil {
		v.Status = StatusError
		v.Source = nil
		slog.Warn("[IMAGE-CACHE] download failed",
			"queue_key", key,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", loadErr,
		)
	} else {
		v.Status = StatusLoaded
		v.Source = src
		s.stats.Fetched[key]++
		s.stats.LoadingTimes[key] = append(s.stats.LoadingTimes[key], elapsed)
		slog.Debug("[IMAGE-CACHE] download finished",
			"queue_key", key,
			"elapsed_ms", elapsed.Milliseconds(),
			"fetched", s.stats.Fetched[key],
		)
	}
	s.notifyLocked(dl.task.URL, true)
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		s.ProcessQueue()
	}
}

// expire fails an attempt whose deadline passed and frees its slot. The
// loader goroutine is cancelled through its context; its eventual result is
// discarded.
func (s *Store) expire(key QueueKey, attempt string) {
	s.mu.Lock()
	dl, ok := s.active[key]
	if !ok || dl.attempt != attempt {
		s.mu.Unlock()
		return
	}
	dl.cancel()
	delete(s.active, key)

	v := s.cache[dl.task.URL].variation(dl.task.ReqWidth)
	v.Status = StatusError
	v.Source = nil

	slog.Warn("[IMAGE-CACHE] download timed out",
		"queue_key", key,
		"timeout_ms", dl.meta.Timeout.Milliseconds(),
		"error", ErrDownloadTimeout,
	)
	s.notifyLocked(dl.task.URL, true)
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		s.ProcessQueue()
	}
}
