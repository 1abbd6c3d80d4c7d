package frame

import (
	"image"
	"time"
)

// RawFrame is unconverted pixel data as delivered by a capture source.
//
// The source owns Data. A RawFrame handed to a frame handler is only valid
// until the handler returns; sources reuse the buffer for the next frame.
type RawFrame struct {
	Seq      uint64
	Width    int
	Height   int
	Format   PixelFormat
	Stride   int // bytes per row of the first plane, 0 means tightly packed
	Data     []byte
	Captured time.Time
}

// RowStride returns the effective stride of the first plane.
func (f *RawFrame) RowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Format.MinStride(f.Width)
}

// DisplayFrame is a renderer-ready image. It is immutable once created and is
// shared by reference between the relay and display sinks.
type DisplayFrame struct {
	Seq          uint64
	Image        *image.RGBA
	SourceFormat PixelFormat
	Captured     time.Time
	Converted    time.Time
}

// Width returns the image width in pixels.
func (f *DisplayFrame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the image height in pixels.
func (f *DisplayFrame) Height() int {
	return f.Image.Bounds().Dy()
}

// Age returns how long ago the frame was captured.
func (f *DisplayFrame) Age() time.Duration {
	return time.Since(f.Captured)
}
