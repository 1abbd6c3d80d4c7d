package converter

import (
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/zsiec/viewfinder/internal/frame"
)

// Converter turns raw frames into display frames using one shared Context.
// Convert is safe for concurrent use, although the pipeline calls it from a
// single producer goroutine.
type Converter struct {
	cc *Context

	converted    atomic.Uint64
	failed       atomic.Uint64
	lastDuration atomic.Int64
}

// Stats is a snapshot of converter counters.
type Stats struct {
	Converted    uint64        `json:"converted"`
	Failed       uint64        `json:"failed"`
	LastDuration time.Duration `json:"last_duration_ns"`
}

// New builds the conversion context from opts and returns a converter that
// owns it.
func New(opts Options) (*Converter, error) {
	cc, err := NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build conversion context: %w", err)
	}
	return NewWithContext(cc), nil
}

// NewWithContext returns a converter around an existing context.
func NewWithContext(cc *Context) *Converter {
	return &Converter{cc: cc}
}

// Context returns the converter's conversion context.
func (c *Converter) Context() *Context {
	return c.cc
}

// Stats returns the current counters.
func (c *Converter) Stats() Stats {
	return Stats{
		Converted:    c.converted.Load(),
		Failed:       c.failed.Load(),
		LastDuration: time.Duration(c.lastDuration.Load()),
	}
}

// Convert produces a DisplayFrame from raw. raw is only read during the call.
// Any failure is a *ConversionError.
func (c *Converter) Convert(raw *frame.RawFrame) (*frame.DisplayFrame, error) {
	start := time.Now()

	if err := c.validate(raw); err != nil {
		c.failed.Add(1)
		return nil, err
	}

	w, h := c.cc.outputSize(raw.Width, raw.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	out := orientedWriter{
		pix:      img.Pix,
		stride:   img.Stride,
		srcW:     raw.Width,
		srcH:     raw.Height,
		rotation: c.cc.opts.Rotation,
		mirror:   c.cc.opts.Mirror,
	}

	switch raw.Format {
	case frame.FormatBGRA:
		c.convertPacked32(raw, &out, 2, 1, 0)
	case frame.FormatRGBA:
		c.convertPacked32(raw, &out, 0, 1, 2)
	case frame.FormatRGB24:
		c.convertRGB24(raw, &out)
	case frame.FormatGray8:
		c.convertGray(raw, &out)
	case frame.FormatNV12:
		c.convertNV12(raw, &out)
	case frame.FormatYUYV:
		c.convertPacked422(raw, &out, 0, 2, 1, 3)
	case frame.FormatUYVY:
		c.convertPacked422(raw, &out, 1, 3, 0, 2)
	}

	now := time.Now()
	c.converted.Add(1)
	c.lastDuration.Store(int64(now.Sub(start)))

	captured := raw.Captured
	if captured.IsZero() {
		captured = start
	}

	return &frame.DisplayFrame{
		Seq:          raw.Seq,
		Image:        img,
		SourceFormat: raw.Format,
		Captured:     captured,
		Converted:    now,
	}, nil
}

func (c *Converter) validate(raw *frame.RawFrame) error {
	if raw == nil {
		return &ConversionError{Reason: ErrEmptyBuffer, Detail: "nil frame"}
	}
	if len(raw.Data) == 0 {
		return newConversionError(raw, ErrEmptyBuffer, "")
	}
	if !raw.Format.IsSupported() {
		return newConversionError(raw, ErrUnsupportedFormat, "")
	}
	if raw.Width <= 0 || raw.Height <= 0 || raw.Width > frame.MaxDimension || raw.Height > frame.MaxDimension {
		return newConversionError(raw, ErrInvalidDimensions, fmt.Sprintf("%dx%d", raw.Width, raw.Height))
	}
	stride := raw.RowStride()
	if stride > frame.MaxStride {
		return newConversionError(raw, ErrInvalidDimensions, fmt.Sprintf("stride %d above maximum %d", stride, frame.MaxStride))
	}
	if stride < raw.Format.MinStride(raw.Width) {
		return newConversionError(raw, ErrShortBuffer, fmt.Sprintf("stride %d below minimum %d", stride, raw.Format.MinStride(raw.Width)))
	}
	need := raw.Format.BufferSize(raw.Width, raw.Height, stride)
	if len(raw.Data) < need {
		return newConversionError(raw, ErrShortBuffer, fmt.Sprintf("have %d bytes, need %d", len(raw.Data), need))
	}
	return nil
}

func (c *Converter) convertPacked32(raw *frame.RawFrame, out *orientedWriter, ri, gi, bi int) {
	stride := raw.RowStride()
	for y := 0; y < raw.Height; y++ {
		row := raw.Data[y*stride:]
		for x := 0; x < raw.Width; x++ {
			p := row[x*4 : x*4+4]
			out.set(x, y, p[ri], p[gi], p[bi])
		}
	}
}

func (c *Converter) convertRGB24(raw *frame.RawFrame, out *orientedWriter) {
	stride := raw.RowStride()
	for y := 0; y < raw.Height; y++ {
		row := raw.Data[y*stride:]
		for x := 0; x < raw.Width; x++ {
			p := row[x*3 : x*3+3]
			out.set(x, y, p[0], p[1], p[2])
		}
	}
}

func (c *Converter) convertGray(raw *frame.RawFrame, out *orientedWriter) {
	stride := raw.RowStride()
	for y := 0; y < raw.Height; y++ {
		row := raw.Data[y*stride:]
		for x := 0; x < raw.Width; x++ {
			v := row[x]
			out.set(x, y, v, v, v)
		}
	}
}

func (c *Converter) convertNV12(raw *frame.RawFrame, out *orientedWriter) {
	stride := raw.RowStride()
	chroma := raw.Data[stride*raw.Height:]
	for y := 0; y < raw.Height; y++ {
		luma := raw.Data[y*stride:]
		crow := chroma[(y/2)*stride:]
		for x := 0; x < raw.Width; x++ {
			ci := (x / 2) * 2
			r, g, b := c.cc.RGB(luma[x], crow[ci], crow[ci+1])
			out.set(x, y, r, g, b)
		}
	}
}

// convertPacked422 handles 4:2:2 layouts where each 4-byte group carries two
// pixels; y0, y1, cb and cr are the byte offsets inside the group.
func (c *Converter) convertPacked422(raw *frame.RawFrame, out *orientedWriter, y0, y1, cb, cr int) {
	stride := raw.RowStride()
	for y := 0; y < raw.Height; y++ {
		row := raw.Data[y*stride:]
		for x := 0; x < raw.Width; x += 2 {
			g4 := row[(x/2)*4 : (x/2)*4+4]
			r, g, b := c.cc.RGB(g4[y0], g4[cb], g4[cr])
			out.set(x, y, r, g, b)
			if x+1 < raw.Width {
				r, g, b = c.cc.RGB(g4[y1], g4[cb], g4[cr])
				out.set(x+1, y, r, g, b)
			}
		}
	}
}

// orientedWriter stores source pixel (x, y) at its rotated and mirrored
// position in an RGBA buffer.
type orientedWriter struct {
	pix      []uint8
	stride   int
	srcW     int
	srcH     int
	rotation int
	mirror   bool
}

func (o *orientedWriter) set(x, y int, r, g, b uint8) {
	if o.mirror {
		x = o.srcW - 1 - x
	}

	var dx, dy int
	switch o.rotation {
	case 90:
		dx, dy = o.srcH-1-y, x
	case 180:
		dx, dy = o.srcW-1-x, o.srcH-1-y
	case 270:
		dx, dy = y, o.srcW-1-x
	default:
		dx, dy = x, y
	}

	i := dy*o.stride + dx*4
	o.pix[i] = r
	o.pix[i+1] = g
	o.pix[i+2] = b
	o.pix[i+3] = 0xff
}
