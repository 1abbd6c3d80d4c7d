package relay

import (
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/viewfinder/internal/frame"
)

func testFrame(seq uint64) *frame.DisplayFrame {
	return &frame.DisplayFrame{
		Seq:      seq,
		Image:    image.NewRGBA(image.Rect(0, 0, 1, 1)),
		Captured: time.Now(),
	}
}

func pending(ch <-chan struct{}) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func TestRelay_LatestBeforePublish(t *testing.T) {
	r := New()

	f, ok := r.Latest()
	assert.False(t, ok)
	assert.Nil(t, f)
	assert.False(t, r.Stats().HasFrame)
}

func TestRelay_LatestIsIdempotent(t *testing.T) {
	r := New()
	f := testFrame(1)

	assert.Equal(t, Published, r.Publish(f))

	for i := 0; i < 3; i++ {
		got, ok := r.Latest()
		require.True(t, ok)
		assert.Same(t, f, got)
	}
}

func TestRelay_FreshestWins(t *testing.T) {
	r := New()
	a, b, c := testFrame(1), testFrame(2), testFrame(3)

	assert.Equal(t, Published, r.Publish(a))
	assert.Equal(t, Replaced, r.Publish(b))
	assert.Equal(t, Replaced, r.Publish(c))

	got, ok := r.Latest()
	require.True(t, ok)
	assert.Same(t, c, got)

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.Published)
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, uint64(3), stats.LatestSeq)
}

func TestRelay_ObservedFrameIsNotADrop(t *testing.T) {
	r := New()

	r.Publish(testFrame(1))
	_, _ = r.Latest()
	assert.Equal(t, Published, r.Publish(testFrame(2)))
	assert.Zero(t, r.Stats().Dropped)
}

func TestRelay_NotificationsCoalesce(t *testing.T) {
	r := New()
	ch, err := r.Subscribe()
	require.NoError(t, err)

	assert.Equal(t, 0, pending(ch))

	r.Publish(testFrame(1))
	r.Publish(testFrame(2))
	r.Publish(testFrame(3))
	assert.Equal(t, 1, pending(ch), "three publishes should leave one signal")

	r.Publish(testFrame(4))
	assert.Equal(t, 1, pending(ch))
	assert.Equal(t, 0, pending(ch))
}

func TestRelay_SingleSubscriber(t *testing.T) {
	r := New()

	_, err := r.Subscribe()
	require.NoError(t, err)

	_, err = r.Subscribe()
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestRelay_StopFreezesLatest(t *testing.T) {
	r := New()
	ch, err := r.Subscribe()
	require.NoError(t, err)

	pre := testFrame(1)
	r.Publish(pre)
	r.Stop()

	assert.Equal(t, Ignored, r.Publish(testFrame(2)))

	got, ok := r.Latest()
	require.True(t, ok)
	assert.Same(t, pre, got)

	// pending signal is still delivered, then the channel reports closed
	_, open := <-ch
	assert.True(t, open)
	_, open = <-ch
	assert.False(t, open)

	select {
	case <-r.Done():
	default:
		t.Fatal("done channel should be closed")
	}

	stats := r.Stats()
	assert.True(t, stats.Stopped)
	assert.Equal(t, uint64(1), stats.Ignored)
	assert.Equal(t, uint64(1), stats.Published)
}

func TestRelay_StopIsIdempotent(t *testing.T) {
	r := New()
	r.Stop()
	assert.NotPanics(t, r.Stop)
	assert.True(t, r.Stopped())
}

func TestRelay_ConcurrentPublishAndRead(t *testing.T) {
	r := New()
	ch, err := r.Subscribe()
	require.NoError(t, err)

	const frames = 2000
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= frames; i++ {
			r.Publish(testFrame(i))
		}
		r.Stop()
	}()

	var lastSeen uint64
	var reads int
	for range ch {
		f, ok := r.Latest()
		require.True(t, ok)
		// frames only move forward
		assert.GreaterOrEqual(t, f.Seq, lastSeen)
		lastSeen = f.Seq
		reads++
	}
	wg.Wait()

	f, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(frames), f.Seq)
	assert.LessOrEqual(t, reads, frames)

	stats := r.Stats()
	assert.Equal(t, uint64(frames), stats.Published)
	assert.LessOrEqual(t, stats.Dropped, uint64(frames-1))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "published", Published.String())
	assert.Equal(t, "replaced", Replaced.String())
	assert.Equal(t, "ignored", Ignored.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
