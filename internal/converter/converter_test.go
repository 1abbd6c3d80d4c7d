package converter

import (
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/viewfinder/internal/frame"
)

func newTestConverter(t *testing.T, opts Options) *Converter {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func assertPixel(t *testing.T, df *frame.DisplayFrame, x, y int, want color.RGBA, delta float64) {
	t.Helper()
	got := df.Image.RGBAAt(x, y)
	assert.InDelta(t, want.R, got.R, delta, "red at (%d,%d)", x, y)
	assert.InDelta(t, want.G, got.G, delta, "green at (%d,%d)", x, y)
	assert.InDelta(t, want.B, got.B, delta, "blue at (%d,%d)", x, y)
	assert.Equal(t, uint8(0xff), got.A, "alpha at (%d,%d)", x, y)
}

func TestConvert_BGRA(t *testing.T) {
	c := newTestConverter(t, DefaultOptions())

	raw := &frame.RawFrame{
		Seq:    7,
		Width:  2,
		Height: 1,
		Format: frame.FormatBGRA,
		Data: []byte{
			10, 20, 30, 0, // B G R A
			200, 100, 50, 0,
		},
		Captured: time.Now(),
	}

	df, err := c.Convert(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), df.Seq)
	assert.Equal(t, frame.FormatBGRA, df.SourceFormat)
	assert.Equal(t, raw.Captured, df.Captured)
	assertPixel(t, df, 0, 0, color.RGBA{30, 20, 10, 255}, 0)
	assertPixel(t, df, 1, 0, color.RGBA{50, 100, 200, 255}, 0)
}

func TestConvert_RGB24WithStride(t *testing.T) {
	c := newTestConverter(t, DefaultOptions())

	raw := &frame.RawFrame{
		Width:  1,
		Height: 2,
		Format: frame.FormatRGB24,
		Stride: 4, // one padding byte per row
		Data:   []byte{1, 2, 3, 0xEE, 4, 5, 6, 0xEE},
	}

	df, err := c.Convert(raw)
	require.NoError(t, err)
	assertPixel(t, df, 0, 0, color.RGBA{1, 2, 3, 255}, 0)
	assertPixel(t, df, 0, 1, color.RGBA{4, 5, 6, 255}, 0)
}

func TestConvert_Gray(t *testing.T) {
	c := newTestConverter(t, DefaultOptions())

	df, err := c.Convert(&frame.RawFrame{Width: 2, Height: 1, Format: frame.FormatGray8, Data: []byte{0, 200}})
	require.NoError(t, err)
	assertPixel(t, df, 0, 0, color.RGBA{0, 0, 0, 255}, 0)
	assertPixel(t, df, 1, 0, color.RGBA{200, 200, 200, 255}, 0)
}

func TestConvert_NV12VideoRange(t *testing.T) {
	c := newTestConverter(t, DefaultOptions())

	// 2x2 frame: video range white and black on top, neutral grey below
	raw := &frame.RawFrame{
		Width:  2,
		Height: 2,
		Format: frame.FormatNV12,
		Data: []byte{
			235, 16, // Y row 0
			126, 126, // Y row 1
			128, 128, // Cb Cr
		},
	}

	df, err := c.Convert(raw)
	require.NoError(t, err)
	assertPixel(t, df, 0, 0, color.RGBA{255, 255, 255, 255}, 1)
	assertPixel(t, df, 1, 0, color.RGBA{0, 0, 0, 255}, 1)
	assertPixel(t, df, 0, 1, color.RGBA{128, 128, 128, 255}, 1)
}

func TestConvert_FullRangeRed(t *testing.T) {
	c := newTestConverter(t, Options{Matrix: MatrixBT601, Range: RangeFull})

	// full range BT.601 encoding of pure red
	raw := &frame.RawFrame{
		Width:  2,
		Height: 1,
		Format: frame.FormatUYVY,
		Data:   []byte{85, 76, 255, 76},
	}

	df, err := c.Convert(raw)
	require.NoError(t, err)
	assertPixel(t, df, 0, 0, color.RGBA{254, 0, 0, 255}, 2)
	assertPixel(t, df, 1, 0, color.RGBA{254, 0, 0, 255}, 2)
}

func TestConvert_YUYVOddWidth(t *testing.T) {
	c := newTestConverter(t, Options{Range: RangeFull})

	raw := &frame.RawFrame{
		Width:  3,
		Height: 1,
		Format: frame.FormatYUYV,
		Data:   []byte{0, 128, 255, 128, 100, 128, 100, 128},
	}

	df, err := c.Convert(raw)
	require.NoError(t, err)
	assert.Equal(t, 3, df.Width())
	assertPixel(t, df, 0, 0, color.RGBA{0, 0, 0, 255}, 1)
	assertPixel(t, df, 1, 0, color.RGBA{255, 255, 255, 255}, 1)
	assertPixel(t, df, 2, 0, color.RGBA{100, 100, 100, 255}, 1)
}

func TestConvert_NV12OddWidth(t *testing.T) {
	c := newTestConverter(t, Options{Range: RangeFull})

	// the tight stride rounds up to a whole CbCr pair
	raw := &frame.RawFrame{
		Width:  3,
		Height: 1,
		Format: frame.FormatNV12,
		Data:   make([]byte, frame.FormatNV12.BufferSize(3, 1, 0)),
	}
	require.Len(t, raw.Data, 8)
	copy(raw.Data, []byte{0, 255, 100, 0, 128, 128, 128, 128})

	df, err := c.Convert(raw)
	require.NoError(t, err)
	assert.Equal(t, 3, df.Width())
	assertPixel(t, df, 0, 0, color.RGBA{0, 0, 0, 255}, 1)
	assertPixel(t, df, 1, 0, color.RGBA{255, 255, 255, 255}, 1)
	assertPixel(t, df, 2, 0, color.RGBA{100, 100, 100, 255}, 1)
}

func TestConvert_Orientation(t *testing.T) {
	// 2x1 source: gray 10 then gray 20
	src := func() *frame.RawFrame {
		return &frame.RawFrame{Width: 2, Height: 1, Format: frame.FormatGray8, Data: []byte{10, 20}}
	}
	gray := func(v uint8) color.RGBA { return color.RGBA{v, v, v, 255} }

	tests := []struct {
		name   string
		opts   Options
		w, h   int
		checks map[[2]int]uint8
	}{
		{"none", Options{}, 2, 1, map[[2]int]uint8{{0, 0}: 10, {1, 0}: 20}},
		{"mirror", Options{Mirror: true}, 2, 1, map[[2]int]uint8{{0, 0}: 20, {1, 0}: 10}},
		{"rotate 90", Options{Rotation: 90}, 1, 2, map[[2]int]uint8{{0, 0}: 10, {0, 1}: 20}},
		{"rotate 180", Options{Rotation: 180}, 2, 1, map[[2]int]uint8{{0, 0}: 20, {1, 0}: 10}},
		{"rotate 270", Options{Rotation: 270}, 1, 2, map[[2]int]uint8{{0, 0}: 20, {0, 1}: 10}},
		{"mirror rotate 90", Options{Rotation: 90, Mirror: true}, 1, 2, map[[2]int]uint8{{0, 0}: 20, {0, 1}: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConverter(t, tt.opts)
			df, err := c.Convert(src())
			require.NoError(t, err)
			assert.Equal(t, tt.w, df.Width())
			assert.Equal(t, tt.h, df.Height())
			for pos, v := range tt.checks {
				assertPixel(t, df, pos[0], pos[1], gray(v), 0)
			}
		})
	}
}

func TestConvert_Errors(t *testing.T) {
	c := newTestConverter(t, DefaultOptions())

	tests := []struct {
		name   string
		raw    *frame.RawFrame
		reason error
		label  string
	}{
		{"nil frame", nil, ErrEmptyBuffer, "empty_buffer"},
		{"empty buffer", &frame.RawFrame{Width: 2, Height: 2, Format: frame.FormatBGRA}, ErrEmptyBuffer, "empty_buffer"},
		{"unsupported format", &frame.RawFrame{Width: 2, Height: 2, Format: "I420", Data: make([]byte, 6)}, ErrUnsupportedFormat, "unsupported_format"},
		{"zero width", &frame.RawFrame{Width: 0, Height: 2, Format: frame.FormatGray8, Data: []byte{1}}, ErrInvalidDimensions, "invalid_dimensions"},
		{"huge dimensions", &frame.RawFrame{Width: 1 << 31, Height: 1 << 31, Format: frame.FormatRGBA, Data: []byte{1}}, ErrInvalidDimensions, "invalid_dimensions"},
		{"width above maximum", &frame.RawFrame{Width: frame.MaxDimension + 1, Height: 1, Format: frame.FormatGray8, Data: make([]byte, frame.MaxDimension+1)}, ErrInvalidDimensions, "invalid_dimensions"},
		{"huge stride", &frame.RawFrame{Width: 1, Height: 1 << 20, Format: frame.FormatGray8, Stride: 1 << 30, Data: []byte{1}}, ErrInvalidDimensions, "invalid_dimensions"},
		{"odd width nv12 tight luma stride", &frame.RawFrame{Width: 3, Height: 1, Format: frame.FormatNV12, Stride: 3, Data: make([]byte, 6)}, ErrShortBuffer, "short_buffer"},
		{"short buffer", &frame.RawFrame{Width: 4, Height: 4, Format: frame.FormatRGBA, Data: make([]byte, 10)}, ErrShortBuffer, "short_buffer"},
		{"stride too small", &frame.RawFrame{Width: 4, Height: 1, Format: frame.FormatRGBA, Stride: 8, Data: make([]byte, 64)}, ErrShortBuffer, "short_buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			df, err := c.Convert(tt.raw)
			require.Error(t, err)
			assert.Nil(t, df)
			assert.True(t, errors.Is(err, tt.reason), "got %v", err)

			var convErr *ConversionError
			assert.True(t, errors.As(err, &convErr))
			assert.Equal(t, tt.label, ReasonLabel(err))
		})
	}

	stats := c.Stats()
	assert.Equal(t, uint64(len(tests)), stats.Failed)
	assert.Zero(t, stats.Converted)
}

func TestConvert_ReusesContext(t *testing.T) {
	c := newTestConverter(t, DefaultOptions())
	cc := c.Context()

	for i := 0; i < 5; i++ {
		_, err := c.Convert(&frame.RawFrame{Seq: uint64(i), Width: 1, Height: 1, Format: frame.FormatGray8, Data: []byte{1}})
		require.NoError(t, err)
		assert.Same(t, cc, c.Context())
	}
	assert.Equal(t, uint64(5), c.Stats().Converted)
}

func TestNewContext_Invalid(t *testing.T) {
	_, err := NewContext(Options{Rotation: 45})
	assert.Error(t, err)

	_, err = NewContext(Options{Matrix: "bt2020"})
	assert.Error(t, err)

	_, err = NewContext(Options{Range: "studio"})
	assert.Error(t, err)
}

func TestParseMatrixAndRange(t *testing.T) {
	m, err := ParseMatrix("BT709")
	require.NoError(t, err)
	assert.Equal(t, MatrixBT709, m)

	r, err := ParseRange("Full")
	require.NoError(t, err)
	assert.Equal(t, RangeFull, r)

	_, err = ParseMatrix("xyz")
	assert.Error(t, err)
}
