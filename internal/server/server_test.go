package server

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/viewfinder/internal/config"
	"github.com/zsiec/viewfinder/internal/converter"
	"github.com/zsiec/viewfinder/internal/errors"
	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/pipeline"
	"github.com/zsiec/viewfinder/internal/relay"
)

type fakeStatus struct {
	stats pipeline.Stats
}

func (f *fakeStatus) Stats() pipeline.Stats { return f.stats }

type fakeConverter struct{}

func (fakeConverter) Stats() converter.Stats {
	return converter.Stats{Converted: 7, Failed: 1}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		HTTPPort:        0,
		ShutdownTimeout: time.Second,
	}
}

// testFrame is a w x h frame whose left half is red and right half blue.
func testFrame(seq uint64, w, h int) *frame.DisplayFrame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 0xff, A: 0xff}
			if x >= w/2 {
				c = color.RGBA{B: 0xff, A: 0xff}
			}
			img.SetRGBA(x, y, c)
		}
	}
	now := time.Now()
	return &frame.DisplayFrame{
		Seq:          seq,
		Image:        img,
		SourceFormat: frame.FormatNV12,
		Captured:     now.Add(-10 * time.Millisecond),
		Converted:    now,
	}
}

func newTestServer(t *testing.T, deps Deps) (*Server, http.Handler) {
	t.Helper()
	s := New(testConfig(), testLogger(), deps)
	return s, s.Handler()
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errors.ErrorResponse {
	t.Helper()
	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestNew(t *testing.T) {
	cfg := testConfig()
	log := testLogger()

	s := New(cfg, log, Deps{})
	require.NotNil(t, s)
	assert.Equal(t, cfg, s.config)
	assert.Equal(t, log, s.logger)
	assert.NotNil(t, s.router)
	assert.NotNil(t, s.healthMgr, "a manager is created when none is passed")
	assert.NotNil(t, s.errorHandler)
	assert.Equal(t, s.router, s.GetRouter())
}

func TestHandler_RegistersRoutesOnce(t *testing.T) {
	s := New(testConfig(), testLogger(), Deps{})

	calls := 0
	s.RegisterRoutes(func(r *mux.Router) {
		calls++
		r.HandleFunc("/extra", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("extra"))
		}).Methods("GET")
	})

	h1 := s.Handler()
	h2 := s.Handler()
	assert.Equal(t, 1, calls)
	assert.Same(t, h1.(*mux.Router), h2.(*mux.Router))

	rr := serve(h1, "GET", "/extra")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "extra", rr.Body.String())
}

func TestDefaultRoutes(t *testing.T) {
	r := relay.New()
	r.Publish(testFrame(1, 8, 8))
	_, h := newTestServer(t, Deps{Frames: r, Pipeline: &fakeStatus{}})

	for _, path := range []string{"/live", "/version", "/api/v1/frame", "/api/v1/frame/info", "/api/v1/status"} {
		t.Run(path, func(t *testing.T) {
			rr := serve(h, "GET", path)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		})
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t, Deps{})

	rr := serve(h, "GET", "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, errors.ErrorTypeNotFound, decodeError(t, rr).Error.Type)

	rr = serve(h, "POST", "/version")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestDebugEndpoints(t *testing.T) {
	_, h := newTestServer(t, Deps{})
	assert.Equal(t, http.StatusNotFound, serve(h, "GET", "/debug/info").Code)

	cfg := testConfig()
	cfg.DebugEndpoints = true
	cfg.HTTP3.Enabled = true
	cfg.HTTP3.Port = 8443
	h = New(cfg, testLogger(), Deps{}).Handler()

	rr := serve(h, "GET", "/debug/info")
	require.Equal(t, http.StatusOK, rr.Code)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, true, info["debug_enabled"])
	assert.Equal(t, true, info["protocols"].(map[string]interface{})["http3"])
	assert.Equal(t, false, info["mjpeg"])

	assert.Equal(t, http.StatusOK, serve(h, "GET", "/debug/pprof/").Code)
}

func TestStart_ServesUntilCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPPort = 0
	s := New(cfg, testLogger(), Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_HTTP3CertificateError(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP3 = config.HTTP3Config{
		Enabled:     true,
		Port:        0,
		TLSCertFile: "missing-cert.pem",
		TLSKeyFile:  "missing-key.pem",
	}
	s := New(cfg, testLogger(), Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := s.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load TLS certificates")
}

func TestShutdown_NothingStarted(t *testing.T) {
	s := New(testConfig(), testLogger(), Deps{})
	assert.NoError(t, s.Shutdown())
}
