package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/viewfinder/internal/pipeline"
)

var (
	// ErrPipelineStopped means the source ended and no new frames will come.
	ErrPipelineStopped = errors.New("pipeline stopped")
	// ErrNoFrames means the pipeline has not delivered a frame yet.
	ErrNoFrames = errors.New("waiting for first frame")
)

// PipelineState is the part of the pipeline the checker reads.
type PipelineState interface {
	State() pipeline.State
	LastFrameAt() time.Time
	Err() error
}

// PipelineChecker reports the frame pipeline down once it stopped, and
// degraded while it waits for its first frame or when frames go stale.
type PipelineChecker struct {
	p          PipelineState
	staleAfter time.Duration

	now func() time.Time
}

// NewPipelineChecker returns a checker. staleAfter of 0 disables the
// staleness check.
func NewPipelineChecker(p PipelineState, staleAfter time.Duration) *PipelineChecker {
	return &PipelineChecker{p: p, staleAfter: staleAfter, now: time.Now}
}

func (c *PipelineChecker) Name() string {
	return "pipeline"
}

func (c *PipelineChecker) Check(ctx context.Context) error {
	switch c.p.State() {
	case pipeline.Stopped:
		if err := c.p.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrPipelineStopped, err)
		}
		return ErrPipelineStopped
	case pipeline.Idle:
		return Degraded(ErrNoFrames)
	}

	if c.staleAfter > 0 {
		if age := c.now().Sub(c.p.LastFrameAt()); age > c.staleAfter {
			return Degraded(fmt.Errorf("last frame %s ago", age.Truncate(time.Millisecond)))
		}
	}
	return nil
}

// Details reports the state and the age of the newest frame.
func (c *PipelineChecker) Details() map[string]interface{} {
	d := map[string]interface{}{
		"state": c.p.State().String(),
	}
	if last := c.p.LastFrameAt(); !last.IsZero() {
		d["last_frame_age_ms"] = c.now().Sub(last).Milliseconds()
	}
	return d
}
