// Package testpattern generates moving colour bars in any supported pixel
// format. It stands in for a camera in development and tests.
package testpattern

import (
	"context"
	"fmt"
	"time"

	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/source"
)

// Rows of every plane are padded to this many bytes, like most camera
// buffers.
const rowAlign = 16

// Bars scroll left by this many pixels per frame.
const scrollStep = 4

// 100% colour bars.
var bars = [8][3]uint8{
	{255, 255, 255}, // white
	{255, 255, 0},   // yellow
	{0, 255, 255},   // cyan
	{0, 255, 0},     // green
	{255, 0, 255},   // magenta
	{255, 0, 0},     // red
	{0, 0, 255},     // blue
	{0, 0, 0},       // black
}

// Config describes the generated stream.
type Config struct {
	Width     int
	Height    int
	FrameRate float64
	Format    frame.PixelFormat
	MaxFrames uint64 // 0 runs until the context is cancelled
}

// Source renders colour bars over a grey ramp into a single reused buffer.
type Source struct {
	cfg    Config
	logger logger.Logger

	stride   int
	barRows  int
	buf      []byte
	rowBars  []byte
	rowRamp  []byte
	uvBars   []byte // NV12 only
	uvRamp   []byte
	interval time.Duration
}

var _ source.Source = (*Source)(nil)

// New validates cfg and allocates the frame buffer.
func New(cfg Config, log logger.Logger) (*Source, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("testpattern: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("testpattern: frame rate must be positive, got %v", cfg.FrameRate)
	}
	if !cfg.Format.IsSupported() {
		return nil, fmt.Errorf("testpattern: unsupported pixel format %s", cfg.Format)
	}
	stride := align(cfg.Format.MinStride(cfg.Width), rowAlign)
	s := &Source{
		cfg:      cfg,
		logger:   logger.WithComponent(log, "testpattern"),
		stride:   stride,
		barRows:  max(1, cfg.Height*7/8),
		buf:      make([]byte, cfg.Format.BufferSize(cfg.Width, cfg.Height, stride)),
		rowBars:  make([]byte, stride),
		rowRamp:  make([]byte, stride),
		interval: time.Duration(float64(time.Second) / cfg.FrameRate),
	}
	if cfg.Format == frame.FormatNV12 {
		s.uvBars = make([]byte, stride)
		s.uvRamp = make([]byte, stride)
	}
	return s, nil
}

// Name identifies the source type.
func (s *Source) Name() string {
	return "testpattern"
}

// Geometry reports the frame size and format the source emits.
func (s *Source) Geometry() source.Geometry {
	return source.Geometry{Width: s.cfg.Width, Height: s.cfg.Height, Format: s.cfg.Format}
}

// Run emits the first frame immediately and then one per tick. Ticks that
// arrive while handle is still busy are dropped by the ticker.
func (s *Source) Run(ctx context.Context, handle source.Handler) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(map[string]interface{}{
		"width":      s.cfg.Width,
		"height":     s.cfg.Height,
		"format":     s.cfg.Format.String(),
		"frame_rate": s.cfg.FrameRate,
	}).Info("Test pattern started")

	var seq uint64
	for {
		if ctx.Err() != nil {
			s.logger.WithField("frames", seq).Info("Test pattern cancelled")
			return nil
		}

		seq++
		s.render(seq)
		handle(&frame.RawFrame{
			Seq:      seq,
			Width:    s.cfg.Width,
			Height:   s.cfg.Height,
			Format:   s.cfg.Format,
			Stride:   s.stride,
			Data:     s.buf,
			Captured: time.Now(),
		})

		if s.cfg.MaxFrames > 0 && seq >= s.cfg.MaxFrames {
			s.logger.WithField("frames", seq).Info("Test pattern reached frame limit")
			return nil
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// render draws frame seq into the shared buffer.
func (s *Source) render(seq uint64) {
	w, h := s.cfg.Width, s.cfg.Height
	shift := int(((seq - 1) * scrollStep) % uint64(w))

	barColor := s.barColor(shift)
	s.fillRow(s.rowBars, barColor)
	s.fillRow(s.rowRamp, ramp(w))

	for y := 0; y < h; y++ {
		row := s.rowRamp
		if y < s.barRows {
			row = s.rowBars
		}
		copy(s.buf[y*s.stride:(y+1)*s.stride], row)
	}

	if s.cfg.Format != frame.FormatNV12 {
		return
	}

	s.fillChroma(s.uvBars, barColor)
	s.fillChroma(s.uvRamp, ramp(w))
	plane := s.buf[s.stride*h:]
	for cy := 0; cy < (h+1)/2; cy++ {
		row := s.uvRamp
		if cy*2 < s.barRows {
			row = s.uvBars
		}
		copy(plane[cy*s.stride:(cy+1)*s.stride], row)
	}
}

func (s *Source) barColor(shift int) func(x int) (uint8, uint8, uint8) {
	w := s.cfg.Width
	return func(x int) (uint8, uint8, uint8) {
		c := bars[((x+shift)%w)*len(bars)/w]
		return c[0], c[1], c[2]
	}
}

func ramp(w int) func(x int) (uint8, uint8, uint8) {
	return func(x int) (uint8, uint8, uint8) {
		if w == 1 {
			return 0, 0, 0
		}
		v := uint8(x * 255 / (w - 1))
		return v, v, v
	}
}

// fillRow writes one row of the first plane.
func (s *Source) fillRow(dst []byte, color func(x int) (uint8, uint8, uint8)) {
	w := s.cfg.Width
	switch s.cfg.Format {
	case frame.FormatBGRA:
		for x := 0; x < w; x++ {
			r, g, b := color(x)
			dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = b, g, r, 0xff
		}
	case frame.FormatRGBA:
		for x := 0; x < w; x++ {
			r, g, b := color(x)
			dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = r, g, b, 0xff
		}
	case frame.FormatRGB24:
		for x := 0; x < w; x++ {
			r, g, b := color(x)
			dst[x*3], dst[x*3+1], dst[x*3+2] = r, g, b
		}
	case frame.FormatGray8:
		for x := 0; x < w; x++ {
			r, g, b := color(x)
			dst[x] = uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
		}
	case frame.FormatNV12:
		for x := 0; x < w; x++ {
			y, _, _ := ycbcr(color(x))
			dst[x] = y
		}
	case frame.FormatYUYV, frame.FormatUYVY:
		for x := 0; x < w; x += 2 {
			y0, cb, cr := ycbcr(color(x))
			y1 := y0
			if x+1 < w {
				y1, _, _ = ycbcr(color(x + 1))
			}
			p := dst[x*2 : x*2+4]
			if s.cfg.Format == frame.FormatYUYV {
				p[0], p[1], p[2], p[3] = y0, cb, y1, cr
			} else {
				p[0], p[1], p[2], p[3] = cb, y0, cr, y1
			}
		}
	}
}

// fillChroma writes one interleaved CbCr row of an NV12 frame, sampling the
// left pixel of each pair.
func (s *Source) fillChroma(dst []byte, color func(x int) (uint8, uint8, uint8)) {
	for cx := 0; cx < (s.cfg.Width+1)/2; cx++ {
		_, cb, cr := ycbcr(color(cx * 2))
		dst[cx*2], dst[cx*2+1] = cb, cr
	}
}

// ycbcr converts to BT.601 video range in 16.16 fixed point.
func ycbcr(r, g, b uint8) (uint8, uint8, uint8) {
	R, G, B := int32(r), int32(g), int32(b)
	y := (16<<16 + 16829*R + 33039*G + 6416*B + 1<<15) >> 16
	cb := (128<<16 - 9714*R - 19070*G + 28784*B + 1<<15) >> 16
	cr := (128<<16 + 28784*R - 24103*G - 4681*B + 1<<15) >> 16
	return uint8(y), uint8(cb), uint8(cr)
}

func align(n, a int) int {
	return (n + a - 1) / a * a
}
