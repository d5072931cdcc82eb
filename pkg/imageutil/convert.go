// Package imageutil validates generated images and renders preview thumbnails.
package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// ThumbWidth and ThumbHeight bound preview thumbnails.
	ThumbWidth  = 320
	ThumbHeight = 320
	jpegQuality = 80
)

// ErrEmptyImage is returned for zero-length or zero-sized images.
var ErrEmptyImage = errors.New("image is empty")

// Info describes a decoded image header.
type Info struct {
	Format string
	Width  int
	Height int
}

// Validate checks that data is a decodable image and returns its header.
func Validate(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyImage
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("invalid image data: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return Info{}, ErrEmptyImage
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Thumbnail loads an image from disk, scales it to fit within maxW x maxH
// and returns JPEG bytes. The original file is not modified.
func Thumbnail(imagePath string, maxW, maxH int) ([]byte, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	scaled := scaleToFit(src, maxW, maxH)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// scaleToFit scales the image to fit within maxW x maxH, preserving aspect ratio.
// Does not upscale.
func scaleToFit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()

	if w <= maxW && h <= maxH {
		return img
	}

	ratio := float64(maxW) / float64(w)
	if rh := float64(maxH) / float64(h); rh < ratio {
		ratio = rh
	}

	newW := max(1, int(float64(w)*ratio))
	newH := max(1, int(float64(h)*ratio))

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
