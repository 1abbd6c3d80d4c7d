package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/metrics"
)

const sinkHTTP = "http"

// ErrTooManyClients is returned by Serve when MaxClients streams are open.
var ErrTooManyClients = errors.New("too many stream clients")

// FrameSource is the consumer side of the relay.
type FrameSource interface {
	Subscribe() (<-chan struct{}, error)
	Latest() (*frame.DisplayFrame, bool)
}

// StreamerConfig controls the rendered stream.
type StreamerConfig struct {
	Width   int // 0 keeps the frame width
	Height  int // 0 keeps the frame height
	Mode    Mode
	Quality int
	MaxFPS  float64 // per client
	// MaxClients caps concurrent streams, 0 means unlimited
	MaxClients int
}

// StreamerStats is a snapshot of streamer counters.
type StreamerStats struct {
	Renders      uint64 `json:"renders"`
	RenderErrors uint64 `json:"render_errors"`
	Clients      int64  `json:"clients"`
	LastSeq      uint64 `json:"last_seq"`
	Finished     bool   `json:"finished"`
}

// encodedFrame is one JPEG shared by every client.
type encodedFrame struct {
	seq      uint64
	data     []byte
	captured time.Time
}

// MJPEGStreamer is the relay's single consumer when the HTTP sink is
// active. Each coalesced relay update is encoded once and then broadcast to
// every connected client; clients never touch the relay.
type MJPEGStreamer struct {
	src    FrameSource
	cfg    StreamerConfig
	logger logger.Logger

	mu       sync.RWMutex
	current  *encodedFrame
	gen      chan struct{} // closed when current changes
	finished bool

	renders      atomic.Uint64
	renderErrors atomic.Uint64
	clients      atomic.Int64
}

// NewMJPEGStreamer returns a streamer reading from src.
func NewMJPEGStreamer(src FrameSource, cfg StreamerConfig, log logger.Logger) *MJPEGStreamer {
	if cfg.Quality <= 0 {
		cfg.Quality = DefaultQuality
	}
	if cfg.MaxFPS <= 0 {
		cfg.MaxFPS = 30
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFill
	}
	return &MJPEGStreamer{
		src:    src,
		cfg:    cfg,
		logger: logger.WithComponent(log, "mjpeg_streamer"),
		gen:    make(chan struct{}),
	}
}

// Run subscribes to the source and renders until ctx is done or the relay
// stops. After a relay stop the last frame stays available to clients.
func (s *MJPEGStreamer) Run(ctx context.Context) error {
	notify, err := s.src.Subscribe()
	if err != nil {
		return fmt.Errorf("mjpeg streamer: %w", err)
	}
	defer s.finish()

	s.logger.WithFields(map[string]interface{}{
		"width":   s.cfg.Width,
		"height":  s.cfg.Height,
		"mode":    string(s.cfg.Mode),
		"max_fps": s.cfg.MaxFPS,
	}).Info("MJPEG streamer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-notify:
			if !ok {
				// relay stopped; make sure the frozen frame is the one served
				s.render()
				s.logger.Info("Relay stopped, MJPEG stream frozen")
				return nil
			}
			s.render()
		}
	}
}

func (s *MJPEGStreamer) render() {
	df, ok := s.src.Latest()
	if !ok {
		return
	}

	s.mu.RLock()
	same := s.current != nil && s.current.seq == df.Seq
	s.mu.RUnlock()
	if same {
		return
	}

	var buf bytes.Buffer
	img := Scale(df.Image, s.cfg.Width, s.cfg.Height, s.cfg.Mode)
	if err := Encode(&buf, img, FormatJPEG, s.cfg.Quality); err != nil {
		s.renderErrors.Add(1)
		s.logger.WithError(err).Warn("Failed to render frame")
		return
	}

	s.mu.Lock()
	s.current = &encodedFrame{seq: df.Seq, data: buf.Bytes(), captured: df.Captured}
	close(s.gen)
	s.gen = make(chan struct{})
	s.mu.Unlock()

	s.renders.Add(1)
	metrics.IncrementDisplayRenders(sinkHTTP)
	metrics.SetFrameAge(df.Age())
}

func (s *MJPEGStreamer) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	close(s.gen)
}

func (s *MJPEGStreamer) snapshot() (*encodedFrame, <-chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.gen, s.finished
}

// Stats returns the current counters.
func (s *MJPEGStreamer) Stats() StreamerStats {
	st := StreamerStats{
		Renders:      s.renders.Load(),
		RenderErrors: s.renderErrors.Load(),
		Clients:      s.clients.Load(),
	}
	cur, _, finished := s.snapshot()
	if cur != nil {
		st.LastSeq = cur.seq
	}
	st.Finished = finished
	return st
}

// ServeHTTP is Serve with a plain 429 when the client cap is reached.
func (s *MJPEGStreamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.Serve(w, r); errors.Is(err, ErrTooManyClients) {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	}
}

// Serve streams frames as multipart/x-mixed-replace. A client that is slower
// than the render rate skips to the newest frame. The response ends when the
// client goes away or, once the stream is finished, after the last frame has
// been sent. Client disconnects are not errors; the only error is
// ErrTooManyClients, returned before anything is written.
func (s *MJPEGStreamer) Serve(w http.ResponseWriter, r *http.Request) error {
	n := s.clients.Add(1)
	if s.cfg.MaxClients > 0 && n > int64(s.cfg.MaxClients) {
		s.clients.Add(-1)
		return ErrTooManyClients
	}
	metrics.SetDisplayClients(sinkHTTP, int(n))
	defer func() {
		metrics.SetDisplayClients(sinkHTTP, int(s.clients.Add(-1)))
	}()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	limiter := rate.NewLimiter(rate.Limit(s.cfg.MaxFPS), 1)
	ctx := r.Context()

	var sent uint64
	for {
		cur, gen, finished := s.snapshot()
		if cur != nil && cur.seq != sent {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			// the wait may have outlived cur
			cur, gen, finished = s.snapshot()
			if err := writePart(mw, cur); err != nil {
				s.logger.WithError(err).Debug("MJPEG client write failed")
				return nil
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
			sent = cur.seq
		}
		if finished {
			mw.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-gen:
		}
	}
}

func writePart(mw *multipart.Writer, f *encodedFrame) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(f.data)))
	h.Set("X-Frame-Seq", strconv.FormatUint(f.seq, 10))
	h.Set("X-Frame-Captured", f.captured.UTC().Format(time.RFC3339Nano))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(f.data)
	return err
}
