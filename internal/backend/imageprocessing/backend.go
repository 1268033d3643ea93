package imageprocessing

import (
	"fmt"
	"image"
	"os"
)

// EncodeOptions carries the per-format encoder knobs from settings.
type EncodeOptions struct {
	// Quality is the lossy quality, 1-100.
	Quality int
	// Speed tunes the AVIF encoder (higher is faster, larger output).
	Speed int
	// Method tunes the WebP encoder (higher is slower, smaller output).
	Method int
}

// Backend encodes an already-decoded source image into a target format.
// Backends are tried in registration order; the first one that supports
// the requested format wins, so a format missing from the default
// backend can still be produced by a fallback backend.
type Backend interface {
	Name() string
	Supports(format Format) bool
	Encode(src []byte, format Format, opts EncodeOptions) ([]byte, error)
}

// ProbeResult describes a source image without fully decoding it.
type ProbeResult struct {
	Width  int
	Height int
	MIME   string
}

// Probe reads just enough of the file to determine dimensions and
// format.
func Probe(path string) (*ProbeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	config, formatName, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read image header of %s: %w", path, err)
	}

	return &ProbeResult{
		Width:  config.Width,
		Height: config.Height,
		MIME:   "image/" + formatName,
	}, nil
}
