package imageloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Fetcher retrieves the raw bytes of an image.
type Fetcher interface {
	// Fetch downloads the image at rawURL.
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// DefaultMaxSourceSizeMB is the default maximum source image size if not configured.
const DefaultMaxSourceSizeMB = 10

// HTTPFetcher implements Fetcher over HTTP with a response size cap, an
// outbound request rate limit and a per-host circuit breaker.
type HTTPFetcher struct {
	client       *http.Client
	limiter      *rate.Limiter
	breaker      *hostBreaker
	maxSizeBytes int64
	userAgent    string
}

// NewHTTPFetcher creates an HTTPFetcher from the loader configuration.
// A zero RequestsPerSecond disables rate limiting.
func NewHTTPFetcher(cfg Config) *HTTPFetcher {
	maxSizeMB := cfg.MaxSourceSizeMB
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSourceSizeMB
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultConfig().UserAgent
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.FetchTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:      rate.NewLimiter(limit, burst),
		breaker:      newHostBreaker(cfg.HostFailureThreshold, cfg.HostOpenDuration),
		maxSizeBytes: int64(maxSizeMB) * 1024 * 1024,
		userAgent:    userAgent,
	}
}

// Fetch downloads the image at rawURL.
// Returns:
//   - ErrInvalidURL if rawURL is not an absolute http(s) URL
//   - ErrNotFound for 404 and 410 responses
//   - ErrFetchTimeout if the request times out or the context ends
//   - ErrImageTooLarge if the body exceeds the size cap
//   - ErrHostUnavailable if the host has failed repeatedly and is being skipped
//   - ErrFetchFailed for any other error
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (data []byte, err error) {
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrFetchTimeout, err)
	}

	host := endpoint.Host
	if err := f.breaker.allow(host); err != nil {
		return nil, err
	}
	defer func() { f.recordOutcome(ctx, host, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/webp,image/png,image/jpeg,image/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchTimeout, ctx.Err())
		}
		if isTimeoutError(err) {
			return nil, fmt.Errorf("%w: request timed out", ErrFetchTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if resp.ContentLength > 0 && resp.ContentLength > f.maxSizeBytes {
			return nil, fmt.Errorf("%w: content length %d exceeds maximum %d bytes",
				ErrImageTooLarge, resp.ContentLength, f.maxSizeBytes)
		}

		// Read one byte past the cap to detect bodies without a truthful Content-Length.
		data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSizeBytes+1))
		if err != nil {
			if isTimeoutError(err) || ctx.Err() != nil {
				return nil, fmt.Errorf("%w: reading body: %v", ErrFetchTimeout, err)
			}
			return nil, fmt.Errorf("%w: failed to read response body: %v", ErrFetchFailed, err)
		}
		if int64(len(data)) > f.maxSizeBytes {
			return nil, fmt.Errorf("%w: response body exceeds maximum %d bytes",
				ErrImageTooLarge, f.maxSizeBytes)
		}
		return data, nil

	case http.StatusNotFound, http.StatusGone:
		return nil, ErrNotFound

	default:
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrFetchFailed, resp.StatusCode)
	}
}

// recordOutcome feeds the result of a request into the host breaker. Only
// transport failures, timeouts and unexpected statuses count against the host;
// cancellation by the caller says nothing about it.
func (f *HTTPFetcher) recordOutcome(ctx context.Context, host string, err error) {
	switch {
	case err == nil, errors.Is(err, ErrNotFound), errors.Is(err, ErrImageTooLarge):
		f.breaker.recordSuccess(host)
	case ctx.Err() != nil:
		f.breaker.abandon(host)
	default:
		f.breaker.recordFailure(host, err)
	}
}

// isTimeoutError checks if the error is a timeout-related error.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
