// Package imageprep shrinks oversized photos before they are sent inline to
// the vision model. Large payloads slow the call down and can push the
// request over the inline-data limit; a 1600px JPEG is plenty for judging
// whether a photo shows a mission step.
package imageprep

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

const (
	// maxInlineBytes is the payload size above which a downscale is attempted.
	maxInlineBytes = 4 * 1024 * 1024

	// maxDimension bounds the longest side of the downscaled photo.
	maxDimension = 1600

	jpegQuality = 85
)

// ShrinkForInline returns the photo bytes to send inline, downscaling JPEG
// and PNG photos that exceed maxInlineBytes. Photos that are small enough,
// or that cannot be decoded (HEIC, WebP, corrupt data), pass through
// unchanged with their original media type.
func ShrinkForInline(data []byte, mediaType string) ([]byte, string) {
	if len(data) <= maxInlineBytes {
		return data, mediaType
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("mediaType", mediaType).Msg("Cannot decode oversized photo, sending original bytes")
		return data, mediaType
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDimension && h <= maxDimension {
		return data, mediaType
	}

	scale := float64(maxDimension) / float64(w)
	if h > w {
		scale = float64(maxDimension) / float64(h)
	}
	dstW := int(float64(w) * scale)
	dstH := int(float64(h) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		log.Warn().Err(err).Msg("Failed to re-encode downscaled photo, sending original bytes")
		return data, mediaType
	}

	if buf.Len() >= len(data) {
		return data, mediaType
	}

	log.Debug().
		Str("format", format).
		Int("originalBytes", len(data)).
		Int("shrunkBytes", buf.Len()).
		Int("width", dstW).
		Int("height", dstH).
		Msg("Photo downscaled for inline model payload")

	return buf.Bytes(), "image/jpeg"
}
