package frontend

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// renderThumbnail scales raster or SVG input down to targetWidth and
// encodes it as PNG. Aspect ratio is preserved.
func renderThumbnail(data []byte, targetWidth int) ([]byte, error) {
	if targetWidth <= 0 {
		return nil, fmt.Errorf("thumbnail width must be positive, got %d", targetWidth)
	}
	if looksLikeSVG(data) {
		return renderSVGThumbnail(data, targetWidth)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("image has empty bounds")
	}
	targetHeight := targetWidth * bounds.Dy() / bounds.Dx()
	if targetHeight < 1 {
		targetHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// looksLikeSVG inspects the first few KB for an SVG root element.
func looksLikeSVG(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	n := len(data)
	if n > 4096 {
		n = 4096
	}
	header := bytes.ToLower(bytes.TrimSpace(data[:n]))
	return bytes.Contains(header, []byte("<svg"))
}

func renderSVGThumbnail(svgData []byte, targetWidth int) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}

	width := icon.ViewBox.W
	height := icon.ViewBox.H
	if width <= 0 || height <= 0 {
		width, height = 1, 1
	}
	targetHeight := int(float64(targetWidth) * height / width)
	if targetHeight < 1 {
		targetHeight = 1
	}

	icon.SetTarget(0, 0, float64(targetWidth), float64(targetHeight))

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.RGBA{255, 255, 255, 255}), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(targetWidth, targetHeight, dst, dst.Bounds())
	dasher := rasterx.NewDasher(targetWidth, targetHeight, scanner)
	icon.Draw(dasher, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode rendered SVG: %w", err)
	}
	return buf.Bytes(), nil
}
