// Package pipeline drives frames from a source through the converter into
// the relay and tracks the Idle, Streaming and Stopped lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/viewfinder/internal/converter"
	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/metrics"
	"github.com/zsiec/viewfinder/internal/relay"
	"github.com/zsiec/viewfinder/internal/source"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("pipeline already started")

// State is the pipeline lifecycle state.
type State int32

const (
	// Idle means no frame has been converted yet.
	Idle State = iota
	// Streaming means at least one frame reached the relay.
	Streaming
	// Stopped is terminal. The relay is stopped and keeps its last frame.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Converter turns raw frames into display frames.
type Converter interface {
	Convert(raw *frame.RawFrame) (*frame.DisplayFrame, error)
}

// Publisher receives converted frames. *relay.Relay implements it.
type Publisher interface {
	Publish(f *frame.DisplayFrame) relay.Outcome
	Stop()
}

// StateHook is called synchronously on every transition, from the goroutine
// that caused it. Hooks must not block.
type StateHook func(from, to State)

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Source           string    `json:"source"`
	State            string    `json:"state"`
	FramesCaptured   uint64    `json:"frames_captured"`
	FramesConverted  uint64    `json:"frames_converted"`
	ConversionErrors uint64    `json:"conversion_errors"`
	Published        uint64    `json:"published"`
	Replaced         uint64    `json:"replaced"`
	Ignored          uint64    `json:"ignored"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	StoppedAt        time.Time `json:"stopped_at,omitempty"`
	LastFrameAt      time.Time `json:"last_frame_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

// Pipeline owns no components; the source, converter and publisher are
// injected by the caller. Conversion runs sequentially in the source's
// callback, so a slow conversion delays the source rather than queueing
// frames.
type Pipeline struct {
	src     source.Source
	conv    Converter
	pub     Publisher
	logger  logger.Logger
	sampled *logger.SampledLogger

	state   atomic.Int32
	started atomic.Bool

	captured  atomic.Uint64
	converted atomic.Uint64
	failed    atomic.Uint64
	published atomic.Uint64
	replaced  atomic.Uint64
	ignored   atomic.Uint64
	lastFrame atomic.Int64 // unix nanos

	mu        sync.Mutex
	hooks     []StateHook
	startedAt time.Time
	stoppedAt time.Time
	lastErr   error
}

// New wires src, conv and pub together. Nothing runs until Run.
func New(src source.Source, conv Converter, pub Publisher, log logger.Logger) *Pipeline {
	log = logger.WithComponent(log, "pipeline").WithField("source", src.Name())
	p := &Pipeline{
		src:     src,
		conv:    conv,
		pub:     pub,
		logger:  log,
		sampled: logger.NewFrameLogger(log),
	}
	metrics.SetPipelineState(metrics.StateIdle)
	return p
}

// OnStateChange registers a hook for state transitions.
func (p *Pipeline) OnStateChange(h StateHook) {
	p.mu.Lock()
	p.hooks = append(p.hooks, h)
	p.mu.Unlock()
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run blocks until the source ends. It then stops the publisher and moves
// to Stopped. End-of-stream and cancellation return nil; a source failure is
// returned wrapped.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	p.mu.Lock()
	p.startedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info("Pipeline started")
	err := p.src.Run(ctx, p.handle)

	p.pub.Stop()
	if err != nil {
		err = fmt.Errorf("source %s: %w", p.src.Name(), err)
		p.logger.WithError(err).Error("Source failed")
	}

	p.mu.Lock()
	p.stoppedAt = time.Now()
	p.lastErr = err
	p.mu.Unlock()

	p.transition(Stopped)
	p.logger.WithFields(map[string]interface{}{
		"captured":  p.captured.Load(),
		"converted": p.converted.Load(),
		"replaced":  p.replaced.Load(),
	}).Info("Pipeline stopped")

	return err
}

// handle is the source callback. raw is only read before it returns.
func (p *Pipeline) handle(raw *frame.RawFrame) {
	p.captured.Add(1)
	metrics.IncrementFramesCaptured(p.src.Name())

	start := time.Now()
	df, err := p.conv.Convert(raw)
	if err != nil {
		p.failed.Add(1)
		reason := converter.ReasonLabel(err)
		metrics.IncrementConversionError(reason)
		p.sampled.WarnWithCategory(logger.CategoryConversion, "Dropped frame that failed conversion", map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
		return
	}
	p.converted.Add(1)
	metrics.RecordConversion(raw.Format.String(), time.Since(start))

	switch outcome := p.pub.Publish(df); outcome {
	case relay.Published:
		p.published.Add(1)
		metrics.RecordRelayOutcome(true, false, false)
	case relay.Replaced:
		p.published.Add(1)
		p.replaced.Add(1)
		metrics.RecordRelayOutcome(true, true, false)
		p.sampled.DebugWithCategory(logger.CategoryRelayDrop, "Replaced unobserved frame", map[string]interface{}{
			"seq": df.Seq,
		})
	case relay.Ignored:
		p.ignored.Add(1)
		metrics.RecordRelayOutcome(false, false, true)
		return
	}

	p.lastFrame.Store(time.Now().UnixNano())
	if p.state.CompareAndSwap(int32(Idle), int32(Streaming)) {
		p.notify(Idle, Streaming)
	}
}

func (p *Pipeline) transition(to State) {
	from := State(p.state.Swap(int32(to)))
	if from == to {
		return
	}
	p.notify(from, to)
}

func (p *Pipeline) notify(from, to State) {
	p.logger.WithFields(map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	}).Info("Pipeline state changed")

	switch to {
	case Idle:
		metrics.SetPipelineState(metrics.StateIdle)
	case Streaming:
		metrics.SetPipelineState(metrics.StateStreaming)
	case Stopped:
		metrics.SetPipelineState(metrics.StateStopped)
	}

	p.mu.Lock()
	hooks := make([]StateHook, len(p.hooks))
	copy(hooks, p.hooks)
	p.mu.Unlock()

	for _, h := range hooks {
		h(from, to)
	}
}

// LastFrameAt returns when the last frame reached the relay, or the zero
// time.
func (p *Pipeline) LastFrameAt() time.Time {
	ns := p.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Err returns the source error Run returned, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	st := Stats{
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	p.mu.Unlock()

	st.Source = p.src.Name()
	st.State = p.State().String()
	st.FramesCaptured = p.captured.Load()
	st.FramesConverted = p.converted.Load()
	st.ConversionErrors = p.failed.Load()
	st.Published = p.published.Load()
	st.Replaced = p.replaced.Load()
	st.Ignored = p.ignored.Load()
	st.LastFrameAt = p.LastFrameAt()
	return st
}
