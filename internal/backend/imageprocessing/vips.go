//go:build vips

package imageprocessing

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

// VipsBackend encodes through libvips. It is compiled in with the
// "vips" build tag and registered after the native backend, picking up
// any format the native encoders cannot produce and offering the
// lossless and effort tuning knobs libvips exposes.
type VipsBackend struct{}

func NewVipsBackend() Backend {
	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(nil)
	return &VipsBackend{}
}

func (b *VipsBackend) Name() string {
	return "vips"
}

func (b *VipsBackend) Supports(format Format) bool {
	return format == FormatAvif || format == FormatWebp
}

func (b *VipsBackend) Encode(src []byte, format Format, opts EncodeOptions) ([]byte, error) {
	img, err := vips.NewImageFromBuffer(src)
	if err != nil {
		return nil, fmt.Errorf("failed to load source image into vips: %w", err)
	}
	defer img.Close()

	switch format {
	case FormatAvif:
		params := vips.NewAvifExportParams()
		params.Quality = opts.Quality
		params.Speed = opts.Speed
		params.StripMetadata = true
		out, _, err := img.ExportAvif(params)
		if err != nil {
			return nil, fmt.Errorf("vips avif export failed: %w", err)
		}
		return out, nil
	case FormatWebp:
		params := vips.NewWebpExportParams()
		params.Quality = opts.Quality
		params.ReductionEffort = opts.Method
		params.StripMetadata = true
		out, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("vips webp export failed: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("vips backend does not support format %q", format)
	}
}
