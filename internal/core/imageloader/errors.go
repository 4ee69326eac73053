package imageloader

import "errors"

var (
	// ErrFetchFailed is returned when fetching an image fails for any reason.
	ErrFetchFailed = errors.New("failed to fetch image")

	// ErrNotFound is returned when the image does not exist at its URL.
	ErrNotFound = errors.New("image not found")

	// ErrFetchTimeout is returned when a request exceeds the fetch timeout.
	ErrFetchTimeout = errors.New("image request timed out")

	// ErrInvalidURL is returned when the image URL is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid image URL")

	// ErrUnsupportedFormat is returned when the source image format cannot be decoded.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrImageTooLarge is returned when the source image exceeds the maximum allowed size.
	ErrImageTooLarge = errors.New("source image exceeds size limit")

	// ErrDecodeFailed is returned when decoding or resizing fails for any reason.
	ErrDecodeFailed = errors.New("image decode failed")

	// ErrHostUnavailable is returned without a request when the image host has failed repeatedly.
	ErrHostUnavailable = errors.New("image host temporarily unavailable")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")
)
