package frame

import (
	"fmt"
	"strings"
)

// PixelFormat identifies the memory layout of a RawFrame.
type PixelFormat string

const (
	FormatUnknown PixelFormat = ""
	FormatBGRA    PixelFormat = "BGRA"  // 32-bit, B G R A byte order
	FormatRGBA    PixelFormat = "RGBA"  // 32-bit, R G B A byte order
	FormatRGB24   PixelFormat = "RGB24" // 24-bit packed
	FormatGray8   PixelFormat = "GRAY8"
	FormatNV12    PixelFormat = "NV12" // Y plane followed by interleaved CbCr at half resolution
	FormatYUYV    PixelFormat = "YUYV" // 4:2:2 packed Y0 Cb Y1 Cr
	FormatUYVY    PixelFormat = "UYVY" // 4:2:2 packed Cb Y0 Cr Y1
)

// MaxDimension bounds frame width and height. Strides above MaxStride are
// rejected, which keeps BufferSize from overflowing.
const (
	MaxDimension = 16384
	MaxStride    = 4 * MaxDimension
)

// Formats lists every pixel format the converter understands.
var Formats = []PixelFormat{
	FormatBGRA,
	FormatRGBA,
	FormatRGB24,
	FormatGray8,
	FormatNV12,
	FormatYUYV,
	FormatUYVY,
}

// ParsePixelFormat maps a case-insensitive name to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	want := PixelFormat(strings.ToUpper(strings.TrimSpace(s)))
	for _, f := range Formats {
		if f == want {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

// IsSupported reports whether the format is one of Formats.
func (p PixelFormat) IsSupported() bool {
	for _, f := range Formats {
		if f == p {
			return true
		}
	}
	return false
}

// IsYCbCr reports whether the format stores luma and chroma samples.
func (p PixelFormat) IsYCbCr() bool {
	switch p {
	case FormatNV12, FormatYUYV, FormatUYVY:
		return true
	}
	return false
}

// MinStride returns the smallest valid stride of the first plane for width.
func (p PixelFormat) MinStride(width int) int {
	switch p {
	case FormatBGRA, FormatRGBA:
		return width * 4
	case FormatRGB24:
		return width * 3
	case FormatGray8:
		return width
	case FormatNV12:
		// the interleaved CbCr row covers odd widths with a whole pair
		return ((width + 1) / 2) * 2
	case FormatYUYV, FormatUYVY:
		// pixel pairs, odd widths round up
		return ((width + 1) / 2) * 4
	}
	return 0
}

// BufferSize returns the number of bytes a frame of this format needs.
func (p PixelFormat) BufferSize(width, height, stride int) int {
	if stride <= 0 {
		stride = p.MinStride(width)
	}
	switch p {
	case FormatNV12:
		// chroma plane shares the luma stride and has half the rows
		return stride*height + stride*((height+1)/2)
	default:
		return stride * height
	}
}

func (p PixelFormat) String() string {
	if p == FormatUnknown {
		return "unknown"
	}
	return string(p)
}
