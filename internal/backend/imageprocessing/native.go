package imageprocessing

import (
	"bytes"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// NativeBackend decodes with the standard image registry and re-encodes
// with pure-Go AVIF/WebP encoders. It needs no system libraries, so it
// is always available and registered first.
type NativeBackend struct{}

func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

func (b *NativeBackend) Name() string {
	return "native"
}

func (b *NativeBackend) Supports(format Format) bool {
	return format == FormatAvif || format == FormatWebp
}

func (b *NativeBackend) Encode(src []byte, format Format, opts EncodeOptions) ([]byte, error) {
	img, sourceFormat, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case FormatAvif:
		err = avif.Encode(&buf, img, avif.Options{
			Quality: opts.Quality,
			Speed:   opts.Speed,
		})
	case FormatWebp:
		err = webp.Encode(&buf, img, webp.Options{
			Quality: opts.Quality,
			Method:  opts.Method,
		})
	default:
		return nil, fmt.Errorf("native backend does not support format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s source as %s: %w", sourceFormat, format, err)
	}

	return buf.Bytes(), nil
}
