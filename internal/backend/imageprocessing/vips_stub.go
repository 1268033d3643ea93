//go:build !vips

package imageprocessing

// NewVipsBackend returns nil when the binary is built without the
// "vips" tag; the converter skips nil backends.
func NewVipsBackend() Backend {
	return nil
}
