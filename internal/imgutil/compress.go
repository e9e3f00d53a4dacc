// Package imgutil downsamples uploaded images into small JPEG previews
// for history storage and AI prompts.
package imgutil

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

const (
	// DefaultMaxDimension bounds the longer preview edge.
	DefaultMaxDimension = 500

	// DefaultQuality is the JPEG encoding quality for previews.
	DefaultQuality = 70
)

// CompressPreview decodes an image and re-encodes it as a JPEG whose
// longer edge is at most maxDimension pixels, preserving aspect ratio.
// Images already within bounds are still re-encoded as JPEG.
func CompressPreview(data []byte, maxDimension, quality int) ([]byte, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dstW, dstH := fitDimensions(w, h, maxDimension)

	var out image.Image = src
	if dstW != w || dstH != h {
		dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	log.Debug().
		Str("format", format).
		Int("src_width", w).
		Int("src_height", h).
		Int("dst_width", dstW).
		Int("dst_height", dstH).
		Int("bytes", buf.Len()).
		Msg("Image preview compressed")

	return buf.Bytes(), nil
}

// fitDimensions scales (w, h) so the longer edge is at most max,
// never upscaling.
func fitDimensions(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w > h {
		return max, int(float64(h) * float64(max) / float64(w))
	}
	return int(float64(w) * float64(max) / float64(h)), max
}
