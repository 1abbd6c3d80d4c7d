package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/viewfinder/internal/config"
	"github.com/zsiec/viewfinder/internal/converter"
	"github.com/zsiec/viewfinder/internal/display"
	"github.com/zsiec/viewfinder/internal/display/terminal"
	"github.com/zsiec/viewfinder/internal/health"
	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/pipeline"
	"github.com/zsiec/viewfinder/internal/registry"
	"github.com/zsiec/viewfinder/internal/relay"
	"github.com/zsiec/viewfinder/internal/server"
	"github.com/zsiec/viewfinder/pkg/version"
)

const (
	// frames older than this make the pipeline check degraded
	staleFrameAfter = 5 * time.Second
	maxHeapBytes    = 1 << 30
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The terminal sink owns the screen
	if cfg.Display.Sink == "terminal" && (cfg.Logging.Output == "stdout" || cfg.Logging.Output == "stderr") {
		cfg.Logging.Output = "viewfinder.log"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting viewfinder")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cancel, cfg, log); err != nil {
		log.WithError(err).Fatal("Viewfinder failed")
	}
	log.Info("Viewfinder shutdown complete")
}

// run wires source, converter, relay, pipeline, display sink, registry and
// HTTP surface together and blocks until ctx is cancelled.
func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, log *logrus.Logger) error {
	base := logger.NewLogrusAdapter(logrus.NewEntry(log))

	src, err := buildSource(cfg.Source, base)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	conv, err := converter.New(cfg.Converter.Options())
	if err != nil {
		return err
	}

	rel := relay.New()
	p := pipeline.New(src, conv, rel, base)

	healthMgr := health.NewManager(base)
	healthMgr.Register(health.NewPipelineChecker(p, staleFrameAfter))
	healthMgr.Register(health.NewMemoryChecker(maxHeapBytes))

	// closed after every goroutine below has returned
	var reg registry.Registry
	defer func() {
		if reg != nil {
			_ = reg.Close()
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if cfg.Registry.Enabled {
		var redisClient *redis.Client
		reg, redisClient, err = buildRegistry(ctx, cfg, base)
		if err != nil {
			return err
		}
		if redisClient != nil {
			healthMgr.Register(health.NewRedisChecker(redisClient))
		}

		session := registry.NewSession(src.Name(), geometryOf(src))
		tracker := registry.NewTracker(reg, session, p.Stats, cfg.Registry.HeartbeatInterval, base)
		p.OnStateChange(tracker.Hook())
		log.WithField("session_id", tracker.SessionID()).Info("Capture session created")

		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Run(ctx)
		}()
	}

	mode, err := display.ParseMode(cfg.Display.Mode)
	if err != nil {
		return err
	}

	// Display sink; exactly one subscribes to the relay
	var streamer *display.MJPEGStreamer
	switch cfg.Display.Sink {
	case "http":
		streamer = display.NewMJPEGStreamer(rel, display.StreamerConfig{
			Width:      cfg.Display.Width,
			Height:     cfg.Display.Height,
			Mode:       mode,
			Quality:    cfg.Display.JPEGQuality,
			MaxFPS:     cfg.Display.MaxFPS,
			MaxClients: cfg.Display.MaxClients,
		}, base)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := streamer.Run(ctx); err != nil {
				log.WithError(err).Error("MJPEG streamer failed")
			}
		}()
	case "terminal":
		wg.Add(1)
		go func() {
			defer wg.Done()
			// quitting the terminal ends the process
			defer cancel()
			if err := terminal.Run(ctx, rel, p.Stats, mode, base); err != nil {
				log.WithError(err).Error("Terminal sink failed")
			}
		}()
	}

	if cfg.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			startMetricsServer(ctx, cfg.Metrics, base)
		}()
	}

	srv := server.New(&cfg.Server, log, server.Deps{
		Frames:    rel,
		Pipeline:  p,
		Converter: conv,
		Registry:  reg,
		Stream:    streamer,
		Health:    healthMgr,
		Display:   cfg.Display,
	})
	srvErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		srvErr <- srv.Start(ctx)
	}()

	// A finished source leaves the last frame frozen; keep serving it.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			log.WithError(err).Error("Pipeline stopped with error")
			return
		}
		if ctx.Err() == nil {
			log.Info("Source ended, serving the last frame until shutdown")
		}
	}()

	select {
	case err := <-srvErr:
		cancel()
		return err
	case <-ctx.Done():
		return nil
	}
}

func buildRegistry(ctx context.Context, cfg *config.Config, log logger.Logger) (registry.Registry, *redis.Client, error) {
	if cfg.Registry.Backend != "redis" {
		return registry.NewMemoryRegistry(cfg.Registry.TTL), nil, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addresses[0],
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	// The registry is informational; streaming starts even if redis is down.
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unreachable, sessions will register once it is back")
	} else {
		log.Info("Connected to Redis successfully")
	}

	return registry.NewRedisRegistry(redisClient, cfg.Registry.Prefix, cfg.Registry.TTL, log), redisClient, nil
}

// startMetricsServer serves Prometheus metrics until ctx is cancelled.
func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Metrics server error")
	}
}
