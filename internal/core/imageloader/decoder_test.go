package imageloader

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Olas/internal/core/imagecache"
)

// createTestJPEG creates a test JPEG image with the specified dimensions.
func createTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 128, B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	require.NoError(t, err)
	return buf.Bytes()
}

// createTestPNG creates a test PNG image with the specified dimensions.
func createTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 64, G: 128, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecoder_Decode_Scales(t *testing.T) {
	dec := NewDecoder()

	tests := []struct {
		name       string
		data       []byte
		width      imagecache.Width
		wantWidth  int
		wantHeight int
		wantFormat string
	}{
		{
			name:       "jpeg downscaled keeps aspect ratio",
			data:       createTestJPEG(t, 800, 400),
			width:      200,
			wantWidth:  200,
			wantHeight: 100,
			wantFormat: "jpeg",
		},
		{
			name:       "png downscaled keeps aspect ratio",
			data:       createTestPNG(t, 600, 900),
			width:      300,
			wantWidth:  300,
			wantHeight: 450,
			wantFormat: "png",
		},
		{
			name:       "narrower source is not upscaled",
			data:       createTestPNG(t, 120, 80),
			width:      400,
			wantWidth:  120,
			wantHeight: 80,
			wantFormat: "png",
		},
		{
			name:       "original keeps natural size",
			data:       createTestJPEG(t, 1024, 768),
			width:      imagecache.Original,
			wantWidth:  1024,
			wantHeight: 768,
			wantFormat: "jpeg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := dec.Decode(tt.data, tt.width)
			require.NoError(t, err)
			require.NotNil(t, src)

			assert.Equal(t, tt.wantWidth, src.Width)
			assert.Equal(t, tt.wantHeight, src.Height)
			assert.Equal(t, tt.wantFormat, src.Format)
			assert.Equal(t, len(tt.data), src.Bytes)
			require.NotNil(t, src.Image)
			assert.Equal(t, tt.wantWidth, src.Image.Bounds().Dx())
		})
	}
}

func TestDecoder_Decode_EmptyData(t *testing.T) {
	_, err := NewDecoder().Decode(nil, 100)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestDecoder_Decode_UnsupportedFormat(t *testing.T) {
	_, err := NewDecoder().Decode([]byte("definitely not an image"), 100)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat), "got: %v", err)
}

func TestDecoder_Decode_Truncated(t *testing.T) {
	data := createTestPNG(t, 200, 200)
	// Header intact, pixel data cut off.
	_, err := NewDecoder().Decode(data[:len(data)/2], 100)
	assert.True(t, errors.Is(err, ErrDecodeFailed), "got: %v", err)
}
