// Package imaging transcodes snapshot images between compressed formats,
// entirely against in-memory buffers.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/platewatch-systems/platewatch-relay/internal/models"
)

// Format identifies a supported compressed image format.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Sniff inspects magic bytes and returns the source format. Cameras send
// JPEG; PNG is recognized so an already-canonical snapshot is not rejected.
func Sniff(imageBytes []byte) Format {
	if len(imageBytes) >= 8 && bytes.Equal(imageBytes[:8], pngMagic) {
		return PNG
	}
	return JPEG
}

// Decode decodes imageBytes under the declared format. Failures wrap
// models.ErrDecode; a malformed payload is never retriable.
func Decode(imageBytes []byte, format Format) (image.Image, error) {
	var (
		img image.Image
		err error
	)

	switch format {
	case JPEG:
		img, err = jpeg.Decode(bytes.NewReader(imageBytes))
	case PNG:
		img, err = png.Decode(bytes.NewReader(imageBytes))
	default:
		return nil, fmt.Errorf("%w: unsupported source format %q", models.ErrDecode, format)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecode, err)
	}
	return img, nil
}

// Encode re-encodes a decoded raster under the target format.
func Encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case JPEG:
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case PNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported target format %q", format)
	}

	return buf.Bytes(), nil
}

// Convert decodes imageBytes under sourceFormat and re-encodes the same
// raster under targetFormat. Pure function, no filesystem intermediate.
func Convert(imageBytes []byte, sourceFormat, targetFormat Format) ([]byte, error) {
	img, err := Decode(imageBytes, sourceFormat)
	if err != nil {
		return nil, err
	}
	return Encode(img, targetFormat)
}
