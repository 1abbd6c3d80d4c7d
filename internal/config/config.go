package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Source    SourceConfig    `mapstructure:"source"`
	Converter ConverterConfig `mapstructure:"converter"`
	Display   DisplayConfig   `mapstructure:"display"`
	Registry  RegistryConfig  `mapstructure:"registry"`
}

type ServerConfig struct {
	// Plain HTTP listener
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"` // 0 keeps MJPEG streams open
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`

	// Optional HTTP/3 listener
	HTTP3 HTTP3Config `mapstructure:"http3"`
}

type HTTP3Config struct {
	Enabled            bool          `mapstructure:"enabled"`
	Port               int           `mapstructure:"port"`
	TLSCertFile        string        `mapstructure:"tls_cert_file"`
	TLSKeyFile         string        `mapstructure:"tls_key_file"`
	MaxIncomingStreams int64         `mapstructure:"max_incoming_streams"`
	MaxIdleTimeout     time.Duration `mapstructure:"max_idle_timeout"`
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// SourceConfig selects and configures the frame source.
type SourceConfig struct {
	Type        string            `mapstructure:"type"` // testpattern or rtp
	TestPattern TestPatternConfig `mapstructure:"testpattern"`
	RTP         RTPConfig         `mapstructure:"rtp"`
}

type TestPatternConfig struct {
	Width     int     `mapstructure:"width"`
	Height    int     `mapstructure:"height"`
	FrameRate float64 `mapstructure:"frame_rate"`
	Format    string  `mapstructure:"format"`     // pixel format, e.g. BGRA or NV12
	MaxFrames uint64  `mapstructure:"max_frames"` // 0 streams until stopped
}

type RTPConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	Port        int           `mapstructure:"port"`
	BufferSize  int           `mapstructure:"buffer_size"` // socket receive buffer
	PayloadType uint8         `mapstructure:"payload_type"`
	Width       int           `mapstructure:"width"`
	Height      int           `mapstructure:"height"`
	Sampling    string        `mapstructure:"sampling"`     // YCbCr-4:2:2 or RGB
	IdleTimeout time.Duration `mapstructure:"idle_timeout"` // 0 waits forever
	// RTCP receiver reports back to the sender, 0 disables them
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

type ConverterConfig struct {
	Matrix   string `mapstructure:"matrix"` // bt601 or bt709
	Range    string `mapstructure:"range"`  // video or full
	Rotation int    `mapstructure:"rotation"`
	Mirror   bool   `mapstructure:"mirror"`
}

// DisplayConfig configures the single display sink attached to the relay.
type DisplayConfig struct {
	Sink        string  `mapstructure:"sink"` // none, http or terminal
	Width       int     `mapstructure:"width"`
	Height      int     `mapstructure:"height"`
	Mode        string  `mapstructure:"mode"` // fill or fit
	JPEGQuality int     `mapstructure:"jpeg_quality"`
	MaxFPS      float64 `mapstructure:"max_fps"`     // per MJPEG client
	MaxClients  int     `mapstructure:"max_clients"` // concurrent MJPEG clients, 0 is unlimited
}

type RegistryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Backend           string        `mapstructure:"backend"` // memory or redis
	Prefix            string        `mapstructure:"prefix"`
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// Load reads the YAML file at configPath, applies VIEWFINDER_* environment
// overrides and defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configPath)

	// Environment variable override
	v.SetEnvPrefix("VIEWFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug_endpoints", false)
	v.SetDefault("server.http3.enabled", false)
	v.SetDefault("server.http3.port", 8443)
	v.SetDefault("server.http3.max_incoming_streams", 1000)
	v.SetDefault("server.http3.max_idle_timeout", "30s")

	// Redis defaults
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Source defaults
	v.SetDefault("source.type", "testpattern")
	v.SetDefault("source.testpattern.width", 640)
	v.SetDefault("source.testpattern.height", 480)
	v.SetDefault("source.testpattern.frame_rate", 30.0)
	v.SetDefault("source.testpattern.format", "BGRA")
	v.SetDefault("source.testpattern.max_frames", 0)
	v.SetDefault("source.rtp.listen_addr", "0.0.0.0")
	v.SetDefault("source.rtp.port", 5004)
	v.SetDefault("source.rtp.buffer_size", 4194304) // 4MB, raw video is bursty
	v.SetDefault("source.rtp.payload_type", 96)
	v.SetDefault("source.rtp.width", 640)
	v.SetDefault("source.rtp.height", 480)
	v.SetDefault("source.rtp.sampling", "YCbCr-4:2:2")
	v.SetDefault("source.rtp.idle_timeout", "0s")
	v.SetDefault("source.rtp.report_interval", "1s")

	// Converter defaults
	v.SetDefault("converter.matrix", "bt601")
	v.SetDefault("converter.range", "video")
	v.SetDefault("converter.rotation", 0)
	v.SetDefault("converter.mirror", false)

	// Display defaults
	v.SetDefault("display.sink", "http")
	v.SetDefault("display.width", 640)
	v.SetDefault("display.height", 480)
	v.SetDefault("display.mode", "fill")
	v.SetDefault("display.jpeg_quality", 80)
	v.SetDefault("display.max_fps", 30.0)
	v.SetDefault("display.max_clients", 16)

	// Registry defaults
	v.SetDefault("registry.enabled", true)
	v.SetDefault("registry.backend", "memory")
	v.SetDefault("registry.prefix", "viewfinder:sessions:")
	v.SetDefault("registry.ttl", "30s")
	v.SetDefault("registry.heartbeat_interval", "5s")
}
