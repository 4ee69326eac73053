package imageloader

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP decoder

	"Olas/internal/core/imagecache"
)

// Decoder turns downloaded bytes into a renderable image at a requested width.
type Decoder interface {
	Decode(data []byte, width imagecache.Width) (*imagecache.ImageSource, error)
}

// ImageDecoder implements Decoder using the imaging library.
type ImageDecoder struct{}

// NewDecoder creates a new ImageDecoder instance.
func NewDecoder() Decoder {
	return &ImageDecoder{}
}

// Decode decodes data and scales it down to width, preserving the aspect
// ratio. Images narrower than width, and requests for the original size,
// are returned at their natural size. EXIF orientation is applied.
func (d *ImageDecoder) Decode(data []byte, width imagecache.Width) (*imagecache.ImageSource, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", ErrUnsupportedFormat)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if isUnsupportedFormatError(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("%w: failed to read image header: %v", ErrDecodeFailed, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s image: %v", ErrDecodeFailed, format, err)
	}

	img = scaleToWidth(img, width)
	bounds := img.Bounds()

	return &imagecache.ImageSource{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
		Bytes:  len(data),
		Image:  img,
	}, nil
}

// scaleToWidth shrinks img to width while preserving its aspect ratio.
// It never upscales.
func scaleToWidth(img image.Image, width imagecache.Width) image.Image {
	if width.IsOriginal() {
		return img
	}
	if img.Bounds().Dx() <= int(width) {
		return img
	}
	// Height 0 keeps the aspect ratio.
	return imaging.Resize(img, int(width), 0, imaging.Lanczos)
}

// isUnsupportedFormatError checks if the error indicates an unsupported image format.
func isUnsupportedFormatError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "unknown format") ||
		strings.Contains(err.Error(), "missing SOI marker")
}
