package display

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
)

// Image formats served to clients.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"

	// DefaultQuality is the JPEG quality used when none is configured.
	DefaultQuality = 80
)

// ContentType returns the MIME type of an encoded image format.
func ContentType(format string) string {
	if format == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Encode writes img as jpeg or png. quality only applies to jpeg.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case FormatJPEG, "jpg", "":
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("jpeg encode: %w", err)
		}
	case FormatPNG:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("png encode: %w", err)
		}
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
	return nil
}
