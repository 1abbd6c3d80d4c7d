package frame

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePixelFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    PixelFormat
		wantErr bool
	}{
		{"bgra", FormatBGRA, false},
		{" NV12 ", FormatNV12, false},
		{"uyvy", FormatUYVY, false},
		{"rgb24", FormatRGB24, false},
		{"h264", FormatUnknown, true},
		{"", FormatUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePixelFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPixelFormat_BufferSize(t *testing.T) {
	assert.Equal(t, 4*3*2, FormatBGRA.BufferSize(4, 2, 0))
	assert.Equal(t, 3*4*2, FormatRGB24.BufferSize(4, 2, 0))
	assert.Equal(t, 8, FormatGray8.BufferSize(4, 2, 0))
	// 4x2 luma + 4x1 chroma
	assert.Equal(t, 12, FormatNV12.BufferSize(4, 2, 0))
	// odd height rounds the chroma rows up
	assert.Equal(t, 4*3+4*2, FormatNV12.BufferSize(4, 3, 0))
	// odd width NV12 rows hold a whole CbCr pair
	assert.Equal(t, 4, FormatNV12.MinStride(3))
	assert.Equal(t, 4+4, FormatNV12.BufferSize(3, 1, 0))
	// odd width rounds to a full pixel pair
	assert.Equal(t, 8, FormatYUYV.BufferSize(3, 1, 0))
	// explicit stride wins
	assert.Equal(t, 64*2, FormatBGRA.BufferSize(4, 2, 64))
}

func TestPixelFormat_Classification(t *testing.T) {
	assert.True(t, FormatNV12.IsYCbCr())
	assert.True(t, FormatUYVY.IsYCbCr())
	assert.False(t, FormatBGRA.IsYCbCr())
	assert.True(t, FormatGray8.IsSupported())
	assert.False(t, PixelFormat("I420").IsSupported())
	assert.Equal(t, "unknown", FormatUnknown.String())
}

func TestRawFrame_RowStride(t *testing.T) {
	f := &RawFrame{Width: 10, Format: FormatRGBA}
	assert.Equal(t, 40, f.RowStride())

	f.Stride = 64
	assert.Equal(t, 64, f.RowStride())
}

func TestDisplayFrame_Dimensions(t *testing.T) {
	f := &DisplayFrame{
		Image:    image.NewRGBA(image.Rect(0, 0, 16, 9)),
		Captured: time.Now().Add(-time.Second),
	}
	assert.Equal(t, 16, f.Width())
	assert.Equal(t, 9, f.Height())
	assert.GreaterOrEqual(t, f.Age(), time.Second)
}
