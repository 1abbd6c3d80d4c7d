package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/viewfinder/internal/converter"
	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/relay"
	"github.com/zsiec/viewfinder/internal/source"
	"github.com/zsiec/viewfinder/internal/source/testpattern"
)

// scriptedSource delivers a fixed list of frames and then returns err.
type scriptedSource struct {
	frames []*frame.RawFrame
	err    error
	// called after each frame is handled
	after func(i int)
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Run(ctx context.Context, handle source.Handler) error {
	for i, f := range s.frames {
		handle(f)
		if s.after != nil {
			s.after(i)
		}
	}
	return s.err
}

// recordingPublisher counts calls and forwards to a real relay.
type recordingPublisher struct {
	*relay.Relay
	mu    sync.Mutex
	calls int
}

func (r *recordingPublisher) Publish(f *frame.DisplayFrame) relay.Outcome {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.Relay.Publish(f)
}

func (r *recordingPublisher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func grayFrame(seq uint64, v byte) *frame.RawFrame {
	data := make([]byte, 4*4)
	for i := range data {
		data[i] = v
	}
	return &frame.RawFrame{Seq: seq, Width: 4, Height: 4, Format: frame.FormatGray8, Data: data}
}

func newConverter(t *testing.T) *converter.Converter {
	t.Helper()
	c, err := converter.New(converter.DefaultOptions())
	require.NoError(t, err)
	return c
}

type transition struct{ from, to State }

func recordHooks(p *Pipeline) func() []transition {
	var mu sync.Mutex
	var got []transition
	p.OnStateChange(func(from, to State) {
		mu.Lock()
		got = append(got, transition{from, to})
		mu.Unlock()
	})
	return func() []transition {
		mu.Lock()
		defer mu.Unlock()
		return append([]transition(nil), got...)
	}
}

func TestPipeline_StateMachine(t *testing.T) {
	r := relay.New()
	var statesDuring []State

	src := &scriptedSource{frames: []*frame.RawFrame{grayFrame(1, 10), grayFrame(2, 20)}}
	p := New(src, newConverter(t), r, nil)
	src.after = func(int) { statesDuring = append(statesDuring, p.State()) }
	hooks := recordHooks(p)

	assert.Equal(t, Idle, p.State())
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []State{Streaming, Streaming}, statesDuring)
	assert.Equal(t, Stopped, p.State())
	assert.Equal(t, []transition{{Idle, Streaming}, {Streaming, Stopped}}, hooks())
	assert.True(t, r.Stopped())
}

func TestPipeline_StopWithoutFrames(t *testing.T) {
	p := New(&scriptedSource{}, newConverter(t), relay.New(), nil)
	hooks := recordHooks(p)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []transition{{Idle, Stopped}}, hooks())
}

func TestPipeline_ConversionErrorsAreDropped(t *testing.T) {
	pub := &recordingPublisher{Relay: relay.New()}
	empty := &frame.RawFrame{Seq: 1, Width: 4, Height: 4, Format: frame.FormatGray8}
	unsupported := &frame.RawFrame{Seq: 2, Width: 4, Height: 4, Format: "P010", Data: make([]byte, 64)}

	p := New(&scriptedSource{frames: []*frame.RawFrame{empty, unsupported}}, newConverter(t), pub, nil)
	require.NoError(t, p.Run(context.Background()))

	assert.Zero(t, pub.Calls(), "failed conversions must not publish")
	_, ok := pub.Latest()
	assert.False(t, ok)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.FramesCaptured)
	assert.Equal(t, uint64(2), stats.ConversionErrors)
	assert.Zero(t, stats.FramesConverted)
	assert.True(t, stats.LastFrameAt.IsZero())
}

func TestPipeline_ErrorThenRecovery(t *testing.T) {
	r := relay.New()
	bad := &frame.RawFrame{Seq: 1, Width: 4, Height: 4, Format: frame.FormatGray8}
	p := New(&scriptedSource{frames: []*frame.RawFrame{bad, grayFrame(2, 99)}}, newConverter(t), r, nil)
	hooks := recordHooks(p)

	require.NoError(t, p.Run(context.Background()))

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), latest.Seq)
	assert.Equal(t, []transition{{Idle, Streaming}, {Streaming, Stopped}}, hooks())
}

func TestPipeline_FreshestWinsUnderSlowConsumer(t *testing.T) {
	r := relay.New()
	frames := []*frame.RawFrame{grayFrame(1, 1), grayFrame(2, 2), grayFrame(3, 3)}
	p := New(&scriptedSource{frames: frames}, newConverter(t), r, nil)

	require.NoError(t, p.Run(context.Background()))

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.Seq)
	assert.Equal(t, uint8(3), latest.Image.RGBAAt(0, 0).R)

	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Published)
	assert.Equal(t, uint64(2), stats.Replaced)
}

func TestPipeline_StopFreezesLatest(t *testing.T) {
	r := relay.New()
	p := New(&scriptedSource{frames: []*frame.RawFrame{grayFrame(1, 50)}}, newConverter(t), r, nil)
	require.NoError(t, p.Run(context.Background()))

	before, ok := r.Latest()
	require.True(t, ok)

	late := &frame.DisplayFrame{Seq: 99, Image: image.NewRGBA(image.Rect(0, 0, 1, 1))}
	assert.Equal(t, relay.Ignored, r.Publish(late))

	after, ok := r.Latest()
	require.True(t, ok)
	assert.Same(t, before, after)
}

func TestPipeline_SourceErrorIsReturned(t *testing.T) {
	boom := errors.New("camera unplugged")
	r := relay.New()
	p := New(&scriptedSource{frames: []*frame.RawFrame{grayFrame(1, 1)}, err: boom}, newConverter(t), r, nil)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "source scripted")
	assert.Equal(t, Stopped, p.State())
	assert.ErrorIs(t, p.Err(), boom)
	assert.Contains(t, p.Stats().LastError, "camera unplugged")
	assert.True(t, r.Stopped())
}

func TestPipeline_RunTwice(t *testing.T) {
	p := New(&scriptedSource{}, newConverter(t), relay.New(), nil)
	require.NoError(t, p.Run(context.Background()))
	assert.ErrorIs(t, p.Run(context.Background()), ErrAlreadyRunning)
}

func TestPipeline_WithTestPatternAndConsumer(t *testing.T) {
	src, err := testpattern.New(testpattern.Config{
		Width: 64, Height: 48, FrameRate: 200, Format: frame.FormatNV12,
	}, nil)
	require.NoError(t, err)

	r := relay.New()
	notify, err := r.Subscribe()
	require.NoError(t, err)

	p := New(src, newConverter(t), r, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var seen []uint64
	for len(seen) < 5 {
		select {
		case _, ok := <-notify:
			require.True(t, ok)
			f, ok := r.Latest()
			require.True(t, ok)
			seen = append(seen, f.Seq)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer starved")
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "frames never go backwards")
	}

	// notify closes once the relay stops
	for range notify {
	}
	assert.Equal(t, Stopped, p.State())
	assert.False(t, p.LastFrameAt().IsZero())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
