package imagecache

import (
	"context"
	"fmt"
	"sync"
)

// PreloadOptions describe the image a consumer wants to show.
type PreloadOptions struct {
	URL string
	// ReqWidth defaults to Original.
	ReqWidth Width
	// Priority defaults to PriorityNormal.
	Priority Priority
	Blurhash string
}

func (o PreloadOptions) withDefaults() PreloadOptions {
	if o.ReqWidth < Original {
		o.ReqWidth = Original
	}
	if p, err := ParsePriority(string(o.Priority)); err == nil {
		o.Priority = p
	} else {
		o.Priority = PriorityNormal
	}
	return o
}

// Lease is a consumer's interest in one image. Acquiring it queues the
// download; releasing it withdraws the download if it has not started yet.
// Downloads already in flight always run to completion.
type Lease struct {
	store *Store
	opts  PreloadOptions
	sub   *Subscription
	once  sync.Once
}

// Preload acquires a lease for opts. A lease with an empty URL is inert:
// it never queues work and its Source is nil.
func (s *Store) Preload(opts PreloadOptions) *Lease {
	opts = opts.withDefaults()
	l := &Lease{store: s, opts: opts}
	if opts.URL == "" {
		return l
	}

	l.sub = s.Subscribe(opts.URL)
	s.AddToQueue(opts.URL, opts.ReqWidth, opts.Blurhash, opts.Priority)
	s.Trigger()
	return l
}

// WithPreload holds a lease for the duration of fn and releases it on every
// return path, including panics.
func (s *Store) WithPreload(ctx context.Context, opts PreloadOptions, fn func(context.Context, *Lease) error) error {
	l := s.Preload(opts)
	defer l.Release()
	return fn(ctx, l)
}

// Options returns the normalised options the lease was acquired with.
func (l *Lease) Options() PreloadOptions {
	return l.opts
}

// Source returns what to draw now. See Store.BestSource.
func (l *Lease) Source() *Rendition {
	if l.opts.URL == "" {
		return nil
	}
	return l.store.BestSource(l.opts.URL, l.opts.ReqWidth)
}

// Updates signals whenever the cache entry for the lease's URL changes.
// The channel is nil for an inert lease.
func (l *Lease) Updates() <-chan struct{} {
	if l.sub == nil {
		return nil
	}
	return l.sub.C()
}

// Wait blocks until the requested variation has loaded or failed. A failed
// download returns ErrLoadFailed; the lease stays usable and the blurhash
// placeholder remains available through Source.
func (l *Lease) Wait(ctx context.Context) (*Rendition, error) {
	if l.sub == nil {
		return nil, fmt.Errorf("%w: empty url", ErrLoadFailed)
	}
	for {
		switch l.store.Status(l.opts.URL, l.opts.ReqWidth) {
		case StatusLoaded:
			return l.Source(), nil
		case StatusError:
			return l.Source(), fmt.Errorf("%w: %s", ErrLoadFailed, KeyFor(l.opts.URL, l.opts.ReqWidth))
		case StatusUnknown:
			// Another holder of the same key released it before admission.
			if l.store.AddToQueue(l.opts.URL, l.opts.ReqWidth, l.opts.Blurhash, l.opts.Priority) {
				l.store.Trigger()
			}
		}

		select {
		case <-ctx.Done():
			return l.Source(), ctx.Err()
		case <-l.store.closing:
			return l.Source(), ErrStoreClosed
		case <-l.sub.C():
		}
	}
}

// Release withdraws the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		if l.sub == nil {
			return
		}
		l.store.RemoveFromQueue(l.opts.URL, l.opts.ReqWidth, l.opts.Priority)
		l.sub.Close()
	})
}
