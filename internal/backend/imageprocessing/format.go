package imageprocessing

import (
	"fmt"
	"strings"
)

// Format is a conversion target format.
type Format string

const (
	FormatAvif Format = "avif"
	FormatWebp Format = "webp"
)

// MIME returns the content type of the format.
func (f Format) MIME() string {
	return "image/" + string(f)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// ParseFormat normalizes a format name from config or request input.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "avif":
		return FormatAvif, nil
	case "webp":
		return FormatWebp, nil
	default:
		return "", fmt.Errorf("unsupported target format: %s", name)
	}
}

// Source MIME types eligible for conversion. Everything else passes
// through the system untouched.
const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
)

// IsConvertibleMIME reports whether a source of the given MIME type is
// eligible for optimization.
func IsConvertibleMIME(mime string) bool {
	return mime == mimeJPEG || mime == mimePNG
}

// IsOptimizedExt reports whether the file extension already denotes an
// optimized variant format.
func IsOptimizedExt(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".avif") || strings.HasSuffix(lower, ".webp")
}
