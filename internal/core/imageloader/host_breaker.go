package imageloader

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed   breakerState = iota // Normal operation
	breakerOpen                         // Host failing, requests short-circuit
	breakerHalfOpen                     // One probe allowed through
)

type hostHealth struct {
	failures    int
	lastFailure time.Time
	state       breakerState
}

// hostBreaker stops fetching from image hosts that keep failing.
// A threshold of 0 disables it.
type hostBreaker struct {
	hosts            map[string]*hostHealth
	failureThreshold int
	openDuration     time.Duration
	now              func() time.Time
	mu               sync.Mutex
}

func newHostBreaker(threshold int, openDuration time.Duration) *hostBreaker {
	return &hostBreaker{
		hosts:            make(map[string]*hostHealth),
		failureThreshold: threshold,
		openDuration:     openDuration,
		now:              time.Now,
	}
}

// allow reports whether a request to host may proceed. An open circuit
// becomes half-open once openDuration has passed and lets a single probe
// through.
func (b *hostBreaker) allow(host string) error {
	if b.failureThreshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.hosts[host]
	if h == nil {
		return nil
	}

	switch h.state {
	case breakerOpen:
		retryAt := h.lastFailure.Add(b.openDuration)
		if b.now().Before(retryAt) {
			return fmt.Errorf("%w: %s (failures: %d, next retry: %s)",
				ErrHostUnavailable, host, h.failures, retryAt.Format("15:04:05"))
		}
		h.state = breakerHalfOpen
		slog.Info("[IMAGE-LOADER] host circuit half-open", "host", host)
		return nil
	case breakerHalfOpen:
		// A probe is already in flight.
		return fmt.Errorf("%w: %s (probing)", ErrHostUnavailable, host)
	default:
		return nil
	}
}

func (b *hostBreaker) recordSuccess(host string) {
	if b.failureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.hosts[host]
	if h == nil {
		return
	}
	if h.state != breakerClosed {
		slog.Info("[IMAGE-LOADER] host circuit closed (recovered)", "host", host)
	}
	delete(b.hosts, host)
}

func (b *hostBreaker) recordFailure(host string, err error) {
	if b.failureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.hosts[host]
	if h == nil {
		h = &hostHealth{}
		b.hosts[host] = h
	}
	h.failures++
	h.lastFailure = b.now()

	// A failed probe reopens immediately.
	if h.state == breakerHalfOpen || h.failures >= b.failureThreshold {
		if h.state != breakerOpen {
			slog.Warn("[IMAGE-LOADER] opening host circuit",
				"host", host,
				"failures", h.failures,
				"open_for", b.openDuration,
				"error", err,
			)
		}
		h.state = breakerOpen
		return
	}

	slog.Debug("[IMAGE-LOADER] host fetch failure",
		"host", host,
		"failures", h.failures,
		"threshold", b.failureThreshold,
		"error", err,
	)
}

// abandon returns a half-open host to open when its probe ended without a
// verdict, so the next request probes again.
func (b *hostBreaker) abandon(host string) {
	if b.failureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if h := b.hosts[host]; h != nil && h.state == breakerHalfOpen {
		h.state = breakerOpen
	}
}
