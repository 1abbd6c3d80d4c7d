package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/zsiec/viewfinder/internal/converter"
	"github.com/zsiec/viewfinder/internal/frame"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Converter.Validate(); err != nil {
		return fmt.Errorf("converter config: %w", err)
	}

	if err := c.Display.Validate(); err != nil {
		return fmt.Errorf("display config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	// Redis is only dialed for the redis registry backend
	if c.Registry.Enabled && c.Registry.Backend == "redis" {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Port == c.Server.HTTPPort {
		return fmt.Errorf("metrics port %d collides with http port", c.Metrics.Port)
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func (s *ServerConfig) Validate() error {
	if !validPort(s.HTTPPort) {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return s.HTTP3.Validate()
}

func (h *HTTP3Config) Validate() error {
	if !h.Enabled {
		return nil
	}

	if !validPort(h.Port) {
		return fmt.Errorf("invalid HTTP3 port: %d", h.Port)
	}

	if h.TLSCertFile == "" {
		return fmt.Errorf("TLS certificate file is required")
	}

	if h.TLSKeyFile == "" {
		return fmt.Errorf("TLS key file is required")
	}

	// Check if certificate files exist
	if _, err := os.Stat(h.TLSCertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file not found: %s", h.TLSCertFile)
	}

	if _, err := os.Stat(h.TLSKeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file not found: %s", h.TLSKeyFile)
	}

	if h.MaxIncomingStreams <= 0 {
		return fmt.Errorf("max_incoming_streams must be positive")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		// file output goes through lumberjack rotation
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if !validPort(m.Port) {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" || !strings.HasPrefix(m.Path, "/") {
			return fmt.Errorf("metrics path must start with '/'")
		}
	}

	return nil
}

func (s *SourceConfig) Validate() error {
	switch s.Type {
	case "testpattern":
		if err := s.TestPattern.Validate(); err != nil {
			return fmt.Errorf("testpattern: %w", err)
		}
	case "rtp":
		if err := s.RTP.Validate(); err != nil {
			return fmt.Errorf("rtp: %w", err)
		}
	default:
		return fmt.Errorf("unknown source type %q (want testpattern or rtp)", s.Type)
	}
	return nil
}

func (t *TestPatternConfig) Validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", t.Width, t.Height)
	}

	if t.FrameRate <= 0 || t.FrameRate > 240 {
		return fmt.Errorf("frame_rate must be in (0, 240], got %v", t.FrameRate)
	}

	if _, err := frame.ParsePixelFormat(t.Format); err != nil {
		return err
	}

	return nil
}

func (r *RTPConfig) Validate() error {
	if !validPort(r.Port) {
		return fmt.Errorf("invalid RTP port: %d", r.Port)
	}

	if r.ListenAddr == "" {
		return fmt.Errorf("RTP listen address cannot be empty")
	}

	if r.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive")
	}

	if r.PayloadType > 127 {
		return fmt.Errorf("payload_type must be 0-127, got %d", r.PayloadType)
	}

	// RTCP shares the port; these types look like RTCP on the wire
	if r.PayloadType >= 64 && r.PayloadType <= 95 {
		return fmt.Errorf("payload_type %d collides with RTCP", r.PayloadType)
	}

	if r.ReportInterval < 0 {
		return fmt.Errorf("report_interval cannot be negative")
	}

	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", r.Width, r.Height)
	}

	switch r.Sampling {
	case "YCbCr-4:2:2":
		// pgroups carry two pixels
		if r.Width%2 != 0 {
			return fmt.Errorf("YCbCr-4:2:2 requires an even width, got %d", r.Width)
		}
	case "RGB":
	default:
		return fmt.Errorf("unsupported sampling %q", r.Sampling)
	}

	if r.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative")
	}

	return nil
}

func (c *ConverterConfig) Validate() error {
	if _, err := converter.ParseMatrix(c.Matrix); err != nil {
		return err
	}

	if _, err := converter.ParseRange(c.Range); err != nil {
		return err
	}

	if !converter.ValidRotation(c.Rotation) {
		return fmt.Errorf("rotation must be 0, 90, 180 or 270, got %d", c.Rotation)
	}

	return nil
}

// Options converts the config into converter options. Validate must have
// succeeded first.
func (c *ConverterConfig) Options() converter.Options {
	opts := converter.DefaultOptions()
	opts.Matrix, _ = converter.ParseMatrix(c.Matrix)
	opts.Range, _ = converter.ParseRange(c.Range)
	opts.Rotation = c.Rotation
	opts.Mirror = c.Mirror
	return opts
}

func (d *DisplayConfig) Validate() error {
	switch d.Sink {
	case "none", "http", "terminal":
	default:
		return fmt.Errorf("unknown display sink %q (want none, http or terminal)", d.Sink)
	}

	if d.Width < 0 || d.Height < 0 {
		return fmt.Errorf("display dimensions cannot be negative")
	}

	if d.Mode != "fill" && d.Mode != "fit" {
		return fmt.Errorf("display mode must be 'fill' or 'fit'")
	}

	if d.JPEGQuality < 1 || d.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be 1-100, got %d", d.JPEGQuality)
	}

	if d.MaxClients < 0 {
		return fmt.Errorf("max_clients cannot be negative")
	}

	if d.MaxFPS <= 0 {
		return fmt.Errorf("max_fps must be positive")
	}

	return nil
}

func (r *RegistryConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Backend != "memory" && r.Backend != "redis" {
		return fmt.Errorf("registry backend must be 'memory' or 'redis'")
	}

	if r.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if r.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}

	if r.HeartbeatInterval >= r.TTL {
		return fmt.Errorf("heartbeat_interval (%v) must be shorter than ttl (%v)", r.HeartbeatInterval, r.TTL)
	}

	return nil
}
