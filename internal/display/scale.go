// Package display renders relay frames for viewers: an MJPEG stream for HTTP
// clients and scaling helpers shared with the frame API and the terminal
// sink.
package display

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Mode selects how a frame is fitted into a target size.
type Mode string

const (
	// ModeFill scales to cover the target and crops the overflow evenly on
	// both sides.
	ModeFill Mode = "fill"
	// ModeFit scales to fit inside the target and letterboxes the rest.
	ModeFit Mode = "fit"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFill, ModeFit:
		return Mode(s), nil
	case "":
		return ModeFill, nil
	}
	return "", fmt.Errorf("unknown scale mode %q (want fill or fit)", s)
}

var letterbox = image.NewUniform(color.RGBA{A: 0xff})

// TargetSize resolves a requested size against the source size. A zero
// dimension is derived from the other one keeping the aspect ratio; both
// zero means the source size.
func TargetSize(srcW, srcH, w, h int) (int, int) {
	switch {
	case w <= 0 && h <= 0:
		return srcW, srcH
	case w <= 0:
		return max(1, srcW*h/srcH), h
	case h <= 0:
		return w, max(1, srcH*w/srcW)
	}
	return w, h
}

// Scale returns src resized to w x h. src itself is returned when no
// resizing is needed, so callers must treat the result as read-only.
func Scale(src *image.RGBA, w, h int, mode Mode) *image.RGBA {
	b := src.Bounds()
	w, h = TargetSize(b.Dx(), b.Dy(), w, h)
	if w == b.Dx() && h == b.Dy() {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if mode == ModeFit {
		draw.Draw(dst, dst.Bounds(), letterbox, image.Point{}, draw.Src)
		draw.ApproxBiLinear.Scale(dst, fitRect(b, w, h), src, b, draw.Src, nil)
		return dst
	}

	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, cropRect(b, w, h), draw.Src, nil)
	return dst
}

// cropRect is the centred part of b with the aspect ratio of w x h.
func cropRect(b image.Rectangle, w, h int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	// sw/sh > w/h without floats
	if sw*h > w*sh {
		// source is wider: crop left and right
		cw := max(1, w*sh/h)
		x := b.Min.X + (sw-cw)/2
		return image.Rect(x, b.Min.Y, x+cw, b.Max.Y)
	}
	ch := max(1, h*sw/w)
	y := b.Min.Y + (sh-ch)/2
	return image.Rect(b.Min.X, y, b.Max.X, y+ch)
}

// fitRect is the centred rectangle inside w x h holding b scaled to fit.
func fitRect(b image.Rectangle, w, h int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	if sw*h > w*sh {
		fh := max(1, sh*w/sw)
		y := (h - fh) / 2
		return image.Rect(0, y, w, y+fh)
	}
	fw := max(1, sw*h/sh)
	x := (w - fw) / 2
	return image.Rect(x, 0, x+fw, h)
}
