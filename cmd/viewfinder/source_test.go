package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/viewfinder/internal/config"
	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/source"
)

func TestBuildSource(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.SourceConfig
		wantName string
		wantGeom source.Geometry
		wantErr  bool
	}{
		{
			name: "testpattern",
			cfg: config.SourceConfig{
				Type: "testpattern",
				TestPattern: config.TestPatternConfig{
					Width: 320, Height: 240, FrameRate: 25, Format: "NV12",
				},
			},
			wantName: "testpattern",
			wantGeom: source.Geometry{Width: 320, Height: 240, Format: frame.FormatNV12},
		},
		{
			name: "rtp",
			cfg: config.SourceConfig{
				Type: "rtp",
				RTP: config.RTPConfig{
					ListenAddr: "127.0.0.1", Width: 64, Height: 48, Sampling: "RGB", PayloadType: 96,
				},
			},
			wantName: "rtp",
			wantGeom: source.Geometry{Width: 64, Height: 48, Format: frame.FormatRGB24},
		},
		{
			name: "bad pixel format",
			cfg: config.SourceConfig{
				Type:        "testpattern",
				TestPattern: config.TestPatternConfig{Width: 8, Height: 8, FrameRate: 1, Format: "P010"},
			},
			wantErr: true,
		},
		{
			name: "bad sampling",
			cfg: config.SourceConfig{
				Type: "rtp",
				RTP:  config.RTPConfig{Width: 8, Height: 8, Sampling: "YCbCr-4:2:0"},
			},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cfg:     config.SourceConfig{Type: "v4l2"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := buildSource(tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, src)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, src.Name())
			assert.Equal(t, tt.wantGeom, geometryOf(src))
		})
	}
}
