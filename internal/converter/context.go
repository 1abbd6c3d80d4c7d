package converter

import (
	"fmt"
	"math"
	"strings"
)

// Matrix selects the YCbCr to RGB coefficients.
type Matrix string

const (
	MatrixBT601 Matrix = "bt601"
	MatrixBT709 Matrix = "bt709"
)

// Range selects how luma and chroma code values map to the 0-255 RGB scale.
type Range string

const (
	RangeVideo Range = "video" // Y 16-235, C 16-240
	RangeFull  Range = "full"  // Y and C 0-255
)

// Options configures a conversion Context.
type Options struct {
	Matrix   Matrix
	Range    Range
	Rotation int  // clockwise degrees: 0, 90, 180 or 270
	Mirror   bool // flip horizontally before rotating (front cameras)
}

// DefaultOptions matches a typical phone back camera delivering video range
// BT.601 data in sensor orientation.
func DefaultOptions() Options {
	return Options{
		Matrix: MatrixBT601,
		Range:  RangeVideo,
	}
}

// ParseMatrix maps a config string to a Matrix.
func ParseMatrix(s string) (Matrix, error) {
	switch Matrix(strings.ToLower(s)) {
	case MatrixBT601, "":
		return MatrixBT601, nil
	case MatrixBT709:
		return MatrixBT709, nil
	}
	return "", fmt.Errorf("unknown color matrix %q", s)
}

// ParseRange maps a config string to a Range.
func ParseRange(s string) (Range, error) {
	switch Range(strings.ToLower(s)) {
	case RangeVideo, "":
		return RangeVideo, nil
	case RangeFull:
		return RangeFull, nil
	}
	return "", fmt.Errorf("unknown color range %q", s)
}

// ValidRotation reports whether deg is a supported rotation.
func ValidRotation(deg int) bool {
	switch deg {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

const fixShift = 16

// Context holds the expensive, reusable state for frame conversion: 16.16
// fixed-point lookup tables for the configured matrix and range, plus the
// output orientation. It is built once and is read-only afterwards, so one
// Context may serve any number of conversions.
type Context struct {
	opts Options

	yTab [256]int32
	crR  [256]int32
	cbG  [256]int32
	crG  [256]int32
	cbB  [256]int32
}

// NewContext builds the lookup tables for opts.
func NewContext(opts Options) (*Context, error) {
	if opts.Matrix == "" {
		opts.Matrix = MatrixBT601
	}
	if opts.Range == "" {
		opts.Range = RangeVideo
	}
	if !ValidRotation(opts.Rotation) {
		return nil, fmt.Errorf("unsupported rotation %d", opts.Rotation)
	}

	var kr, kgb, kgr, kb float64
	switch opts.Matrix {
	case MatrixBT601:
		kr, kgb, kgr, kb = 1.402, 0.344136, 0.714136, 1.772
	case MatrixBT709:
		kr, kgb, kgr, kb = 1.5748, 0.187324, 0.468124, 1.8556
	default:
		return nil, fmt.Errorf("unknown color matrix %q", opts.Matrix)
	}

	var yScale, yOff, cScale float64
	switch opts.Range {
	case RangeVideo:
		yScale, yOff, cScale = 255.0/219.0, 16, 255.0/224.0
	case RangeFull:
		yScale, yOff, cScale = 1, 0, 1
	default:
		return nil, fmt.Errorf("unknown color range %q", opts.Range)
	}

	c := &Context{opts: opts}
	one := float64(int32(1) << fixShift)
	for i := 0; i < 256; i++ {
		y := (float64(i) - yOff) * yScale
		// rounding bias folded into the luma term
		c.yTab[i] = int32(math.Round(y*one)) + 1<<(fixShift-1)

		ch := (float64(i) - 128) * cScale
		c.crR[i] = int32(math.Round(kr * ch * one))
		c.cbG[i] = int32(math.Round(kgb * ch * one))
		c.crG[i] = int32(math.Round(kgr * ch * one))
		c.cbB[i] = int32(math.Round(kb * ch * one))
	}

	return c, nil
}

// Options returns the options the context was built with.
func (c *Context) Options() Options {
	return c.opts
}

// RGB converts one YCbCr sample to RGB using the tables.
func (c *Context) RGB(y, cb, cr uint8) (r, g, b uint8) {
	l := c.yTab[y]
	r = clamp(l + c.crR[cr])
	g = clamp(l - c.cbG[cb] - c.crG[cr])
	b = clamp(l + c.cbB[cb])
	return r, g, b
}

func clamp(v int32) uint8 {
	v >>= fixShift
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// outputSize returns the displayed size of a w x h source after rotation.
func (c *Context) outputSize(w, h int) (int, int) {
	if c.opts.Rotation == 90 || c.opts.Rotation == 270 {
		return h, w
	}
	return w, h
}
