package imageprocessing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
)

// Output describes one successfully written variant file.
type Output struct {
	Path string
	Size int64
}

// Converter turns a JPEG/PNG source file into an optimized variant
// beside it. The source file is never modified or removed; a failed
// conversion leaves no partial output behind.
type Converter struct {
	backends []Backend
}

// NewConverter builds the default backend chain: the pure-Go backend
// first, the vips backend after it when compiled in.
func NewConverter() *Converter {
	backends := []Backend{NewNativeBackend()}
	if vipsBackend := NewVipsBackend(); vipsBackend != nil {
		backends = append(backends, vipsBackend)
	}
	return &Converter{backends: backends}
}

// NewConverterWithBackends is used by tests and callers that need a
// custom chain.
func NewConverterWithBackends(backends ...Backend) *Converter {
	return &Converter{backends: backends}
}

// Convert encodes sourcePath into the target format and writes the
// result to the shared variant path. It returns an error when the
// source is not a convertible image, when no backend supports the
// format, or when encoding or writing fails.
func (c *Converter) Convert(ctx context.Context, sourcePath string, format Format, opts EncodeOptions) (*Output, error) {
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read source image %s: %w", sourcePath, err)
	}

	// Sniff the actual content rather than trusting the extension.
	mime := http.DetectContentType(src)
	if !IsConvertibleMIME(mime) {
		return nil, fmt.Errorf("source %s has unsupported type %s", sourcePath, mime)
	}

	backend := c.backendFor(format)
	if backend == nil {
		return nil, fmt.Errorf("no backend available for format %q", format)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encoded, err := backend.Encode(src, format, opts)
	if err != nil {
		return nil, fmt.Errorf("%s backend failed to encode %s: %w", backend.Name(), sourcePath, err)
	}

	outputPath := VariantPath(sourcePath, format)
	if err := writeAtomically(outputPath, encoded); err != nil {
		return nil, err
	}

	slog.Debug("variant written",
		"source", sourcePath,
		"output", outputPath,
		"format", format,
		"backend", backend.Name(),
		"input_size_bytes", len(src),
		"output_size_bytes", len(encoded))

	return &Output{
		Path: outputPath,
		Size: int64(len(encoded)),
	}, nil
}

// Capabilities lists the formats each configured backend can produce,
// for the admin capabilities endpoint.
func (c *Converter) Capabilities() map[string][]string {
	capabilities := make(map[string][]string, len(c.backends))
	for _, backend := range c.backends {
		var formats []string
		for _, format := range []Format{FormatAvif, FormatWebp} {
			if backend.Supports(format) {
				formats = append(formats, string(format))
			}
		}
		capabilities[backend.Name()] = formats
	}
	return capabilities
}

func (c *Converter) backendFor(format Format) Backend {
	for _, backend := range c.backends {
		if backend != nil && backend.Supports(format) {
			return backend
		}
	}
	return nil
}

// writeAtomically writes to a temp file in the target directory and
// renames it into place, so a crash mid-write cannot leave a truncated
// variant that the delivery side would then serve.
func writeAtomically(path string, data []byte) error {
	tmpPath := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write variant %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move variant into place at %s: %w", path, err)
	}
	return nil
}
