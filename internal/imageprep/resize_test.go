package imageprep

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestShrinkForInline_SmallPassThrough(t *testing.T) {
	data := []byte("tiny")
	out, mediaType := ShrinkForInline(data, "image/jpeg")
	if !bytes.Equal(out, data) || mediaType != "image/jpeg" {
		t.Error("small payload should pass through unchanged")
	}
}

func TestShrinkForInline_UndecodablePassThrough(t *testing.T) {
	data := make([]byte, maxInlineBytes+1)
	out, mediaType := ShrinkForInline(data, "image/heic")
	if !bytes.Equal(out, data) || mediaType != "image/heic" {
		t.Error("undecodable payload should pass through unchanged")
	}
}

func TestShrinkForInline_DownscalesLargePNG(t *testing.T) {
	// A noisy large PNG compresses poorly, comfortably exceeding the limit.
	img := image.NewRGBA(image.Rect(0, 0, 3200, 2400))
	for y := 0; y < 2400; y++ {
		for x := 0; x < 3200; x++ {
			img.Set(x, y, color.RGBA{uint8(x*7 + y*13), uint8(x * 3), uint8(y * 5), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if buf.Len() <= maxInlineBytes {
		t.Skipf("fixture only %d bytes, below inline limit", buf.Len())
	}

	out, mediaType := ShrinkForInline(buf.Bytes(), "image/png")
	if mediaType != "image/jpeg" {
		t.Errorf("expected re-encoded JPEG, got %s", mediaType)
	}
	if len(out) >= buf.Len() {
		t.Errorf("expected smaller payload, got %d >= %d", len(out), buf.Len())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode shrunk output: %v", err)
	}
	if cfg.Width > maxDimension || cfg.Height > maxDimension {
		t.Errorf("shrunk dimensions %dx%d exceed max %d", cfg.Width, cfg.Height, maxDimension)
	}
}
