package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/viewfinder/internal/converter"
	"github.com/zsiec/viewfinder/internal/display"
	"github.com/zsiec/viewfinder/internal/errors"
	"github.com/zsiec/viewfinder/internal/pipeline"
	"github.com/zsiec/viewfinder/internal/registry"
	"github.com/zsiec/viewfinder/internal/relay"
	"github.com/zsiec/viewfinder/pkg/version"
)

const (
	// maxFrameDimension caps ?width= and ?height= on /api/v1/frame.
	maxFrameDimension = 4096

	defaultRegistryTimeout = 2 * time.Second
)

// FrameInfo describes the latest frame without its pixels.
type FrameInfo struct {
	Seq          uint64    `json:"seq"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	SourceFormat string    `json:"source_format"`
	Captured     time.Time `json:"captured"`
	Converted    time.Time `json:"converted"`
	AgeMS        int64     `json:"age_ms"`
}

// StatusResponse is the body of /api/v1/status.
type StatusResponse struct {
	Pipeline  *pipeline.Stats        `json:"pipeline,omitempty"`
	Relay     *relay.Stats           `json:"relay,omitempty"`
	Converter *converter.Stats       `json:"converter,omitempty"`
	Stream    *display.StreamerStats `json:"stream,omitempty"`
	Sink      string                 `json:"sink"`
}

// handleVersion handles the /version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.GetInfo()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")

	if err := json.NewEncoder(w).Encode(versionInfo); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
	}
}

// handleFrame encodes the latest frame. Query: format (jpeg, png), width,
// height, mode (fill, fit), quality.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.deps.Frames == nil {
		s.writeError(w, r, errors.NewServiceDownError("pipeline"))
		return
	}

	q := r.URL.Query()
	format := strings.ToLower(q.Get("format"))
	switch format {
	case "", "jpg":
		format = display.FormatJPEG
	case display.FormatJPEG, display.FormatPNG:
	default:
		s.writeError(w, r, errors.NewValidationError("format must be jpeg or png").
			WithDetails(map[string]interface{}{"format": format}))
		return
	}

	width, err := intParam(q, "width", 0, maxFrameDimension)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	height, err := intParam(q, "height", 0, maxFrameDimension)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	quality, err := intParam(q, "quality", 1, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if quality == 0 {
		quality = s.deps.Display.JPEGQuality
	}
	if quality <= 0 {
		quality = display.DefaultQuality
	}

	modeParam := q.Get("mode")
	if modeParam == "" {
		modeParam = s.deps.Display.Mode
	}
	mode, err := display.ParseMode(modeParam)
	if err != nil {
		s.writeError(w, r, errors.NewValidationError(err.Error()))
		return
	}

	f, ok := s.deps.Frames.Latest()
	if !ok {
		s.writeError(w, r, errors.NewNoFrameError())
		return
	}

	img := display.Scale(f.Image, width, height, mode)
	var buf bytes.Buffer
	if err := display.Encode(&buf, img, format, quality); err != nil {
		s.writeError(w, r, errors.NewEncodingError(err, format))
		return
	}

	h := w.Header()
	h.Set("Content-Type", display.ContentType(format))
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	h.Set("X-Frame-Captured", f.Captured.UTC().Format(time.RFC3339Nano))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleFrameInfo(w http.ResponseWriter, r *http.Request) {
	if s.deps.Frames == nil {
		s.writeError(w, r, errors.NewServiceDownError("pipeline"))
		return
	}
	f, ok := s.deps.Frames.Latest()
	if !ok {
		s.writeError(w, r, errors.NewNoFrameError())
		return
	}

	b := f.Image.Bounds()
	info := FrameInfo{
		Seq:          f.Seq,
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceFormat: f.SourceFormat.String(),
		Captured:     f.Captured,
		Converted:    f.Converted,
		AgeMS:        time.Since(f.Captured).Milliseconds(),
	}
	s.respond(w, r, http.StatusOK, info)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Sink: s.deps.Display.Sink}
	if s.deps.Pipeline != nil {
		st := s.deps.Pipeline.Stats()
		resp.Pipeline = &st
	}
	if s.deps.Frames != nil {
		st := s.deps.Frames.Stats()
		resp.Relay = &st
	}
	if s.deps.Converter != nil {
		st := s.deps.Converter.Stats()
		resp.Converter = &st
	}
	if s.deps.Stream != nil {
		st := s.deps.Stream.Stats()
		resp.Stream = &st
	}
	s.respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		s.writeError(w, r, errors.NewServiceDownError("session registry"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.registryTimeout)
	defer cancel()

	sessions, err := s.deps.Registry.List(ctx)
	if err != nil {
		s.writeError(w, r, registryError(err, "failed to list sessions"))
		return
	}
	if sessions == nil {
		sessions = []*registry.Session{}
	}

	s.respond(w, r, http.StatusOK, struct {
		Sessions []*registry.Session `json:"sessions"`
		Count    int                 `json:"count"`
		Time     time.Time           `json:"timestamp"`
	}{
		Sessions: sessions,
		Count:    len(sessions),
		Time:     time.Now(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		s.writeError(w, r, errors.NewServiceDownError("session registry"))
		return
	}

	id := mux.Vars(r)["id"]
	ctx, cancel := context.WithTimeout(r.Context(), s.registryTimeout)
	defer cancel()

	session, err := s.deps.Registry.Get(ctx, id)
	switch {
	case stderrors.Is(err, registry.ErrSessionNotFound):
		s.writeError(w, r, errors.NewNotFoundError("session").
			WithDetails(map[string]interface{}{"id": id}))
		return
	case err != nil:
		s.writeError(w, r, registryError(err, "failed to load session"))
		return
	}
	s.respond(w, r, http.StatusOK, session)
}

// registryError maps a registry failure to a timeout when the lookup ran out
// of time and to service down otherwise.
func registryError(err error, message string) *errors.AppError {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError("session registry did not respond in time")
	}
	return errors.Wrap(err, errors.ErrorTypeServiceDown, message, http.StatusServiceUnavailable)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Stream.Serve(w, r); stderrors.Is(err, display.ErrTooManyClients) {
		s.writeError(w, r, errors.NewRateLimitError("stream client limit reached"))
	}
}

// intParam parses an optional integer query parameter. Missing means 0.
func intParam(q url.Values, name string, lo, hi int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, errors.NewValidationError(name + " must be an integer in range").
			WithDetails(map[string]interface{}{name: raw, "min": lo, "max": hi})
	}
	return v, nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Cache-Control", "no-store")
	if err := s.writeJSON(w, status, data); err != nil {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("Failed to encode response")
	}
}

// writeJSON is a helper to write JSON responses
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// writeError is a helper to write error responses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
