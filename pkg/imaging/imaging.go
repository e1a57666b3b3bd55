// Package imaging validates uploaded site photographs, normalizes them for
// the vision model and estimates their quality so low-quality images can be
// held to a stricter acceptance threshold downstream.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	// DefaultMaxBytes bounds accepted uploads (10 MB).
	DefaultMaxBytes = 10 << 20

	// maxSide clamps the long side sent to the model.
	maxSide = 1024

	jpegQuality = 85
)

// Processed is a validated, model-ready image.
type Processed struct {
	JPEG    []byte
	Format  string // source format: "jpeg" or "png"
	Width   int    // dimensions after resize
	Height  int
	Quality Quality
}

// Process decodes and verifies an upload, resizes it for the model and runs
// the quality assessment. Rejections are client input errors.
func Process(data []byte, maxBytes int) (*Processed, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	if len(data) > maxBytes {
		return nil, fmt.Errorf("image exceeds maximum size of %d bytes", maxBytes)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	if format != "jpeg" && format != "png" {
		return nil, fmt.Errorf("unsupported image format %q (want jpeg or png)", format)
	}

	quality := Assess(img)

	resized := resize(img, maxSide)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	b := resized.Bounds()
	return &Processed{
		JPEG:    buf.Bytes(),
		Format:  format,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Quality: quality,
	}, nil
}

// resize clamps the long side to max while preserving aspect ratio. Images
// already small enough are only converted to RGBA for re-encoding.
func resize(img image.Image, max int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if w > h && w > max {
		h = h * max / w
		w = max
	} else if h >= w && h > max {
		w = w * max / h
		h = max
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
