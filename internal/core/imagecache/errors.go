package imagecache

import "errors"

var (
	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrInvalidWidth is returned when a requested width cannot be parsed.
	ErrInvalidWidth = errors.New("invalid image width")

	// ErrInvalidPriority is returned when a priority name is not high, normal or low.
	ErrInvalidPriority = errors.New("invalid download priority")

	// ErrLoadFailed is returned by Lease.Wait when the requested variation failed to load or timed out.
	ErrLoadFailed = errors.New("image load failed")

	// ErrDownloadTimeout is recorded when an admitted download outlives its deadline.
	ErrDownloadTimeout = errors.New("image download timed out")

	// ErrStoreClosed is returned by Lease.Wait when the store shuts down first.
	ErrStoreClosed = errors.New("image store closed")
)
