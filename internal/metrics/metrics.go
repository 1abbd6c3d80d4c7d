package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source metrics
	framesCapturedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfinder_frames_captured_total",
		Help: "Raw frames delivered by the source",
	}, []string{"source"})

	// Converter metrics
	framesConvertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfinder_frames_converted_total",
		Help: "Raw frames converted to display frames, by source pixel format",
	}, []string{"format"})

	conversionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfinder_conversion_errors_total",
		Help: "Raw frames dropped because conversion failed",
	}, []string{"reason"})

	conversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "viewfinder_conversion_duration_seconds",
		Help:    "Time spent converting one raw frame",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~0.8s
	})

	// Relay metrics
	relayPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewfinder_relay_published_total",
		Help: "Display frames published to the relay",
	})

	relayDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewfinder_relay_dropped_total",
		Help: "Display frames replaced before any consumer observed them",
	})

	relayIgnoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewfinder_relay_ignored_total",
		Help: "Display frames published after the relay stopped",
	})

	// Pipeline metrics
	pipelineState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewfinder_pipeline_state",
		Help: "Pipeline state (0=idle, 1=streaming, 2=stopped)",
	})

	frameAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewfinder_latest_frame_age_seconds",
		Help: "Age of the latest display frame when last rendered",
	})

	// Display metrics
	displayRendersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfinder_display_renders_total",
		Help: "Frames rendered by a display sink",
	}, []string{"sink"})

	displayClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "viewfinder_display_clients",
		Help: "Clients attached to a display sink",
	}, []string{"sink"})

	// RTP metrics
	rtpPacketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewfinder_rtp_packets_total",
		Help: "RTP packets accepted by the source",
	})

	rtpBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewfinder_rtp_bytes_total",
		Help: "RTP payload bytes accepted by the source",
	})

	rtpPacketsLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewfinder_rtp_packets_lost_total",
		Help: "RTP packets missing according to sequence gaps",
	})

	rtpIncompleteFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfinder_rtp_incomplete_frames_total",
		Help: "Frames discarded during reassembly",
	}, []string{"reason"})

	rtpRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfinder_rtp_rejected_packets_total",
		Help: "RTP packets rejected before reassembly",
	}, []string{"reason"})

	rtcpPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfinder_rtcp_packets_total",
		Help: "RTCP packets exchanged with the RTP sender",
	}, []string{"direction", "type"})

	// Registry metrics
	registryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewfinder_registry_errors_total",
		Help: "Session registry operation failures",
	}, []string{"operation"})
)

// Pipeline state values exported through viewfinder_pipeline_state.
const (
	StateIdle      = 0
	StateStreaming = 1
	StateStopped   = 2
)

// IncrementFramesCaptured counts a raw frame delivered by source.
func IncrementFramesCaptured(source string) {
	framesCapturedTotal.WithLabelValues(source).Inc()
}

// RecordConversion records a successful conversion.
func RecordConversion(format string, d time.Duration) {
	framesConvertedTotal.WithLabelValues(format).Inc()
	conversionDuration.Observe(d.Seconds())
}

// IncrementConversionError counts a dropped raw frame by reason label.
func IncrementConversionError(reason string) {
	conversionErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordRelayOutcome counts a publish result. replaced implies published.
func RecordRelayOutcome(published, replaced, ignored bool) {
	if published {
		relayPublishedTotal.Inc()
	}
	if replaced {
		relayDroppedTotal.Inc()
	}
	if ignored {
		relayIgnoredTotal.Inc()
	}
}

func SetPipelineState(state int) {
	pipelineState.Set(float64(state))
}

func SetFrameAge(d time.Duration) {
	frameAge.Set(d.Seconds())
}

func IncrementDisplayRenders(sink string) {
	displayRendersTotal.WithLabelValues(sink).Inc()
}

func SetDisplayClients(sink string, n int) {
	displayClients.WithLabelValues(sink).Set(float64(n))
}

// RecordRTPPacket counts one accepted packet and its payload size.
func RecordRTPPacket(payloadBytes int) {
	rtpPacketsTotal.Inc()
	rtpBytesTotal.Add(float64(payloadBytes))
}

func AddRTPPacketsLost(n int) {
	if n > 0 {
		rtpPacketsLostTotal.Add(float64(n))
	}
}

func IncrementRTPIncompleteFrame(reason string) {
	rtpIncompleteFramesTotal.WithLabelValues(reason).Inc()
}

func IncrementRTPRejected(reason string) {
	rtpRejectedTotal.WithLabelValues(reason).Inc()
}

// IncrementRTCPPackets counts an RTCP packet; direction is sent or received.
func IncrementRTCPPackets(direction, kind string) {
	rtcpPacketsTotal.WithLabelValues(direction, kind).Inc()
}

func IncrementRegistryError(operation string) {
	registryErrorsTotal.WithLabelValues(operation).Inc()
}
