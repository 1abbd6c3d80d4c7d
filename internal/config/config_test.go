package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/viewfinder/internal/converter"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "viewfinder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Server.HTTP3.Enabled)

	assert.Equal(t, "testpattern", cfg.Source.Type)
	assert.Equal(t, 640, cfg.Source.TestPattern.Width)
	assert.Equal(t, 30.0, cfg.Source.TestPattern.FrameRate)
	assert.Equal(t, "BGRA", cfg.Source.TestPattern.Format)
	assert.Equal(t, uint8(96), cfg.Source.RTP.PayloadType)
	assert.Equal(t, "YCbCr-4:2:2", cfg.Source.RTP.Sampling)
	assert.Equal(t, time.Second, cfg.Source.RTP.ReportInterval)

	assert.Equal(t, "bt601", cfg.Converter.Matrix)
	assert.Equal(t, "http", cfg.Display.Sink)
	assert.Equal(t, 80, cfg.Display.JPEGQuality)
	assert.Equal(t, 16, cfg.Display.MaxClients)

	assert.True(t, cfg.Registry.Enabled)
	assert.Equal(t, "memory", cfg.Registry.Backend)
	assert.Equal(t, 30*time.Second, cfg.Registry.TTL)
}

func TestLoadConfig_FileValues(t *testing.T) {
	content := `
server:
  http_port: 9000
source:
  type: rtp
  rtp:
    port: 6000
    width: 1280
    height: 720
    sampling: RGB
    idle_timeout: 5s
    report_interval: 0s
converter:
  matrix: bt709
  range: full
  rotation: 90
  mirror: true
display:
  sink: terminal
  mode: fit
metrics:
  enabled: false
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "rtp", cfg.Source.Type)
	assert.Equal(t, 6000, cfg.Source.RTP.Port)
	assert.Equal(t, 1280, cfg.Source.RTP.Width)
	assert.Equal(t, "RGB", cfg.Source.RTP.Sampling)
	assert.Equal(t, 5*time.Second, cfg.Source.RTP.IdleTimeout)
	assert.Zero(t, cfg.Source.RTP.ReportInterval)
	assert.Equal(t, "terminal", cfg.Display.Sink)
	assert.Equal(t, "fit", cfg.Display.Mode)

	opts := cfg.Converter.Options()
	assert.Equal(t, converter.MatrixBT709, opts.Matrix)
	assert.Equal(t, converter.RangeFull, opts.Range)
	assert.Equal(t, 90, opts.Rotation)
	assert.True(t, opts.Mirror)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("VIEWFINDER_SOURCE_TESTPATTERN_FORMAT", "NV12")
	t.Setenv("VIEWFINDER_DISPLAY_SINK", "none")

	cfg, err := Load(writeConfig(t, "source:\n  testpattern:\n    format: RGBA\n"))
	require.NoError(t, err)

	assert.Equal(t, "NV12", cfg.Source.TestPattern.Format)
	assert.Equal(t, "none", cfg.Display.Sink)
}

func TestLoadConfig_Invalid(t *testing.T) {
	content := `
source:
  type: carrier-pigeon
`
	cfg, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "unknown source type")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoadConfig_HTTP3RequiresCerts(t *testing.T) {
	content := `
server:
  http3:
    enabled: true
    tls_cert_file: /nonexistent/cert.pem
    tls_key_file: /nonexistent/key.pem
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS certificate file not found")
}
