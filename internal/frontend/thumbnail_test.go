package frontend

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodeThumbnail(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail is not a valid PNG: %v", err)
	}
	return img
}

func TestRenderThumbnailScalesPreservingAspectRatio(t *testing.T) {
	source := encodeTestPNG(t, 200, 100)

	thumbnail, err := renderThumbnail(source, 50)
	if err != nil {
		t.Fatalf("failed to render thumbnail: %v", err)
	}

	img := decodeThumbnail(t, thumbnail)
	bounds := img.Bounds()
	if bounds.Dx() != 50 {
		t.Errorf("expected width 50, got %d", bounds.Dx())
	}
	if bounds.Dy() != 25 {
		t.Errorf("expected height 25, got %d", bounds.Dy())
	}
}

func TestRenderThumbnailRejectsInvalidInput(t *testing.T) {
	if _, err := renderThumbnail([]byte("not an image"), 50); err == nil {
		t.Error("expected error for invalid input")
	}
	if _, err := renderThumbnail(encodeTestPNG(t, 10, 10), 0); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestRenderThumbnailFromSVG(t *testing.T) {
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 50">
		<rect width="100" height="50" fill="red"/>
	</svg>`)

	thumbnail, err := renderThumbnail(svg, 80)
	if err != nil {
		t.Fatalf("failed to render SVG thumbnail: %v", err)
	}

	img := decodeThumbnail(t, thumbnail)
	if img.Bounds().Dx() != 80 {
		t.Errorf("expected width 80, got %d", img.Bounds().Dx())
	}
	if img.Bounds().Dy() != 40 {
		t.Errorf("expected height 40, got %d", img.Bounds().Dy())
	}
}

func TestLooksLikeSVG(t *testing.T) {
	if !looksLikeSVG([]byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`)) {
		t.Error("expected xml-prefixed svg to be detected")
	}
	if looksLikeSVG(encodeTestPNG(t, 4, 4)) {
		t.Error("png must not be detected as svg")
	}
	if looksLikeSVG(nil) {
		t.Error("empty input must not be detected as svg")
	}
}
