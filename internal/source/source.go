// Package source defines how raw frames enter the pipeline.
package source

import (
	"context"

	"github.com/zsiec/viewfinder/internal/frame"
)

// Handler receives each raw frame synchronously. The frame and its buffer
// are only valid until the handler returns.
type Handler func(*frame.RawFrame)

// Source produces raw frames until the stream ends.
//
// Run blocks, calling handle once per frame from a single goroutine. It
// returns nil on end-of-stream or when ctx is cancelled, and an error when
// capture fails.
type Source interface {
	Name() string
	Run(ctx context.Context, handle Handler) error
}

// Geometry describes the frames a source will produce, when known up front.
type Geometry struct {
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Format frame.PixelFormat `json:"format"`
}

// Describer is implemented by sources that know their output geometry
// before the first frame.
type Describer interface {
	Geometry() Geometry
}
