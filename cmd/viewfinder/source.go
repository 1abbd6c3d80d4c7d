package main

import (
	"fmt"

	"github.com/zsiec/viewfinder/internal/config"
	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/source"
	"github.com/zsiec/viewfinder/internal/source/rtp"
	"github.com/zsiec/viewfinder/internal/source/testpattern"
)

// buildSource creates the frame source named by cfg.Type.
func buildSource(cfg config.SourceConfig, log logger.Logger) (source.Source, error) {
	switch cfg.Type {
	case "testpattern":
		format, err := frame.ParsePixelFormat(cfg.TestPattern.Format)
		if err != nil {
			return nil, err
		}
		src, err := testpattern.New(testpattern.Config{
			Width:     cfg.TestPattern.Width,
			Height:    cfg.TestPattern.Height,
			FrameRate: cfg.TestPattern.FrameRate,
			Format:    format,
			MaxFrames: cfg.TestPattern.MaxFrames,
		}, log)
		if err != nil {
			return nil, err
		}
		return src, nil

	case "rtp":
		sampling, err := rtp.ParseSampling(cfg.RTP.Sampling)
		if err != nil {
			return nil, err
		}
		src, err := rtp.New(rtp.Config{
			ListenAddr:     cfg.RTP.ListenAddr,
			Port:           cfg.RTP.Port,
			BufferSize:     cfg.RTP.BufferSize,
			PayloadType:    cfg.RTP.PayloadType,
			Width:          cfg.RTP.Width,
			Height:         cfg.RTP.Height,
			Sampling:       sampling,
			IdleTimeout:    cfg.RTP.IdleTimeout,
			ReportInterval: cfg.RTP.ReportInterval,
		}, log)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("unknown source type %q", cfg.Type)
}

// geometryOf returns what the source announces up front, if anything.
func geometryOf(src source.Source) source.Geometry {
	if d, ok := src.(source.Describer); ok {
		return d.Geometry()
	}
	return source.Geometry{}
}
