package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SampledLogger rate limits high-frequency log categories. Per-frame events
// (conversion failures, relay drops, RTP loss) can fire at camera cadence;
// each category gets its own token bucket and everything beyond it is counted
// instead of written.
type SampledLogger struct {
	base     Logger
	samplers map[string]*LogSampler
	mu       *sync.RWMutex
}

// LogSampler is the token bucket for one category.
type LogSampler struct {
	name    string
	limiter *rate.Limiter

	total      atomic.Int64
	logged     atomic.Int64
	suppressed atomic.Int64 // suppressed since the last logged message
}

// SamplerStats holds statistics for a log sampler
type SamplerStats struct {
	Name            string  `json:"name"`
	TotalMessages   int64   `json:"total_messages"`
	SampledMessages int64   `json:"sampled_messages"`
	DroppedMessages int64   `json:"dropped_messages"`
	CurrentRate     float64 `json:"current_rate"`
}

// NewSampledLogger creates a sampled logger with no categories configured.
// Categories without a sampler always log.
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     base,
		samplers: make(map[string]*LogSampler),
		mu:       &sync.RWMutex{},
	}
}

// WithSampler allows one message per interval for category, with bursts of
// up to burst messages.
func (s *SampledLogger) WithSampler(category string, interval time.Duration, burst int) *SampledLogger {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	s.mu.Lock()
	s.samplers[category] = &LogSampler{
		name:    category,
		limiter: rate.NewLimiter(limit, burst),
	}
	s.mu.Unlock()

	return s
}

func (s *SampledLogger) sampler(category string) *LogSampler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samplers[category]
}

// allow reports whether a message in category may be written and how many
// messages were suppressed since the previous one.
func (s *SampledLogger) allow(category string) (bool, int64) {
	sm := s.sampler(category)
	if sm == nil {
		return true, 0
	}

	sm.total.Add(1)
	if !sm.limiter.Allow() {
		sm.suppressed.Add(1)
		return false, 0
	}
	sm.logged.Add(1)
	return true, sm.suppressed.Swap(0)
}

// CategoryLog logs msg at level if the category's budget allows it.
func (s *SampledLogger) CategoryLog(level logrus.Level, category, msg string, fields map[string]interface{}) {
	ok, suppressed := s.allow(category)
	if !ok {
		return
	}

	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["category"] = category
	if suppressed > 0 {
		out["suppressed"] = suppressed
	}
	s.base.WithFields(out).Log(level, msg)
}

// DebugWithCategory logs a sampled debug message.
func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.CategoryLog(logrus.DebugLevel, category, msg, fields)
}

// InfoWithCategory logs a sampled info message.
func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.CategoryLog(logrus.InfoLevel, category, msg, fields)
}

// WarnWithCategory logs a sampled warning.
func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.CategoryLog(logrus.WarnLevel, category, msg, fields)
}

// ErrorWithCategory always logs; errors are never sampled.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields map[string]interface{}) {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["category"] = category
	s.base.WithFields(out).Error(msg)
}

// GetSamplerStats returns statistics for all samplers
func (s *SampledLogger) GetSamplerStats() map[string]SamplerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers))
	for name, sm := range s.samplers {
		total := sm.total.Load()
		logged := sm.logged.Load()
		st := SamplerStats{
			Name:            name,
			TotalMessages:   total,
			SampledMessages: logged,
			DroppedMessages: total - logged,
		}
		if total > 0 {
			st.CurrentRate = float64(logged) / float64(total)
		}
		stats[name] = st
	}
	return stats
}

// Log categories used by the frame pipeline.
const (
	CategoryConversion = "frame_conversion"
	CategoryRelayDrop  = "relay_drop"
	CategoryPacketLoss = "packet_loss"
	CategoryDisplay    = "display"
	CategoryRegistry   = "registry"
)

// NewFrameLogger creates a sampled logger preconfigured for the per-frame
// categories of the preview pipeline.
func NewFrameLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		// a broken source can fail every frame
		WithSampler(CategoryConversion, time.Second, 5).
		// drops are expected under a fast producer, keep them rare
		WithSampler(CategoryRelayDrop, 5*time.Second, 1).
		WithSampler(CategoryPacketLoss, time.Second, 3).
		WithSampler(CategoryDisplay, time.Second, 2).
		WithSampler(CategoryRegistry, 10*time.Second, 2)
}

// Logger interface

func (s *SampledLogger) derive(base Logger) *SampledLogger {
	return &SampledLogger{base: base, samplers: s.samplers, mu: s.mu}
}

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return s.derive(s.base.WithFields(fields))
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return s.derive(s.base.WithField(key, value))
}

func (s *SampledLogger) WithError(err error) Logger {
	return s.derive(s.base.WithError(err))
}

func (s *SampledLogger) Debug(args ...interface{}) { s.base.Debug(args...) }
func (s *SampledLogger) Info(args ...interface{})  { s.base.Info(args...) }
func (s *SampledLogger) Warn(args ...interface{})  { s.base.Warn(args...) }
func (s *SampledLogger) Error(args ...interface{}) { s.base.Error(args...) }
func (s *SampledLogger) Fatal(args ...interface{}) { s.base.Fatal(args...) }

func (s *SampledLogger) Log(level logrus.Level, args ...interface{}) {
	s.base.Log(level, args...)
}

func (s *SampledLogger) Debugf(format string, args ...interface{}) { s.base.Debugf(format, args...) }
func (s *SampledLogger) Infof(format string, args ...interface{})  { s.base.Infof(format, args...) }
func (s *SampledLogger) Warnf(format string, args ...interface{})  { s.base.Warnf(format, args...) }
func (s *SampledLogger) Errorf(format string, args ...interface{}) { s.base.Errorf(format, args...) }
