// Package rtp receives uncompressed video over RTP (RFC 4175) and
// reassembles it into raw frames.
package rtp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/metrics"
	"github.com/zsiec/viewfinder/internal/source"
)

// Config configures the UDP listener and the expected stream geometry.
type Config struct {
	ListenAddr  string
	Port        int // 0 picks a free port
	BufferSize  int
	PayloadType uint8
	Width       int
	Height      int
	Sampling    Sampling
	IdleTimeout time.Duration // 0 waits forever
	// ReportInterval paces RTCP receiver reports to the locked sender,
	// 0 disables them.
	ReportInterval time.Duration
}

// Source listens for one RTP stream. The first SSRC seen is locked in;
// packets from other senders are rejected.
type Source struct {
	cfg     Config
	logger  logger.Logger
	sampled *logger.SampledLogger
	depack  *Depacketizer

	mu   sync.Mutex
	conn *net.UDPConn
	ssrc uint32
	// set once the first valid packet has been accepted
	locked bool
	remote *net.UDPAddr

	reception  reception
	reportSSRC uint32
	lastReport time.Time

	readTimeout time.Duration
}

var _ source.Source = (*Source)(nil)

// New validates cfg. The socket is opened by Listen or Run.
func New(cfg Config, log logger.Logger) (*Source, error) {
	depack, err := NewDepacketizer(cfg.Width, cfg.Height, cfg.Sampling)
	if err != nil {
		return nil, fmt.Errorf("rtp source: %w", err)
	}
	if cfg.PayloadType >= 64 && cfg.PayloadType <= 95 {
		return nil, fmt.Errorf("rtp source: payload type %d collides with RTCP", cfg.PayloadType)
	}
	log = logger.WithComponent(log, "rtp_source")

	return &Source{
		cfg:         cfg,
		logger:      log,
		sampled:     logger.NewFrameLogger(log),
		depack:      depack,
		reportSSRC:  rand.Uint32(),
		readTimeout: time.Second,
	}, nil
}

// Name identifies the source type.
func (s *Source) Name() string {
	return "rtp"
}

// Geometry reports the configured frame size and the delivered format.
func (s *Source) Geometry() source.Geometry {
	return source.Geometry{Width: s.cfg.Width, Height: s.cfg.Height, Format: s.cfg.Sampling.PixelFormat()}
}

// Listen opens the UDP socket. Calling it before Run lets callers learn the
// bound address.
func (s *Source) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.cfg.ListenAddr, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve RTP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on RTP port: %w", err)
	}

	if s.cfg.BufferSize > 0 {
		if err := conn.SetReadBuffer(s.cfg.BufferSize); err != nil {
			s.logger.WithError(err).Warn("Failed to set RTP read buffer size")
		}
	}

	s.conn = conn
	s.logger.WithFields(map[string]interface{}{
		"address":  conn.LocalAddr().String(),
		"width":    s.cfg.Width,
		"height":   s.cfg.Height,
		"sampling": string(s.cfg.Sampling),
	}).Info("RTP source listening")
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (s *Source) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stats returns reassembly counters. Only safe to call after Run returned.
func (s *Source) Stats() DepacketizerStats {
	return s.depack.Stats()
}

// Run reads packets until ctx is cancelled or the idle timeout expires.
// Both end the stream normally; socket failures are returned.
func (s *Source) Run(ctx context.Context, handle source.Handler) error {
	if err := s.Listen(); err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		s.conn.Close()
		s.conn = nil
		s.mu.Unlock()
	}()

	buf := make([]byte, 65536)
	lastPacket := time.Now()

	for {
		if ctx.Err() != nil {
			s.logger.Info("RTP source stopped")
			return nil
		}
		if s.cfg.IdleTimeout > 0 && time.Since(lastPacket) > s.cfg.IdleTimeout {
			s.logger.WithField("idle_timeout", s.cfg.IdleTimeout.String()).Info("RTP source idle, ending stream")
			return nil
		}
		s.maybeReport(time.Now())

		// Set read deadline
		s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read RTP packet: %w", err)
		}

		if IsRTCP(buf[:n]) {
			s.handleRTCP(buf[:n])
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			metrics.IncrementRTPRejected("unparseable")
			s.logger.WithError(err).Debug("Failed to parse RTP packet")
			continue
		}

		if !s.accept(packet, addr) {
			continue
		}
		lastPacket = time.Now()
		metrics.RecordRTPPacket(len(packet.Payload))
		s.reception.update(packet, lastPacket)

		raw, lost, err := s.depack.Push(packet)
		if lost > 0 {
			metrics.AddRTPPacketsLost(lost)
			s.sampled.WarnWithCategory(logger.CategoryPacketLoss, "RTP packets lost", map[string]interface{}{
				"lost":     lost,
				"sequence": packet.SequenceNumber,
			})
		}
		if err != nil {
			s.recordDiscard(err)
		}
		if raw != nil {
			raw.Captured = lastPacket
			handle(raw)
		}
	}
}

// accept filters by payload type and SSRC.
func (s *Source) accept(packet *rtp.Packet, addr *net.UDPAddr) bool {
	if packet.PayloadType != s.cfg.PayloadType {
		metrics.IncrementRTPRejected("payload_type")
		s.logger.WithField("payload_type", packet.PayloadType).Debug("Rejected RTP packet with unexpected payload type")
		return false
	}

	if !s.locked {
		s.locked = true
		s.ssrc = packet.SSRC
		s.remote = addr
		s.logger.WithFields(map[string]interface{}{
			"ssrc":        packet.SSRC,
			"remote_addr": addr.String(),
		}).Info("RTP stream locked to sender")
		return true
	}

	if packet.SSRC != s.ssrc {
		metrics.IncrementRTPRejected("ssrc")
		return false
	}
	return true
}

func (s *Source) recordDiscard(err error) {
	if reason := IncompleteReason(err); reason != "" {
		metrics.IncrementRTPIncompleteFrame(reason)
		s.sampled.WarnWithCategory(logger.CategoryPacketLoss, "Dropped incomplete frame", map[string]interface{}{
			"reason": reason,
		})
	}
	if errors.Is(err, ErrMalformedPayload) {
		metrics.IncrementRTPRejected("malformed")
		s.sampled.WarnWithCategory(logger.CategoryPacketLoss, "Malformed RTP payload", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// handleRTCP takes the timing of sender reports from the locked sender.
func (s *Source) handleRTCP(b []byte) {
	packets, err := rtcp.Unmarshal(b)
	if err != nil {
		metrics.IncrementRTPRejected("rtcp_malformed")
		s.logger.WithError(err).Debug("Failed to parse RTCP packet")
		return
	}
	for _, p := range packets {
		switch p := p.(type) {
		case *rtcp.SenderReport:
			if !s.locked || p.SSRC != s.ssrc {
				continue
			}
			s.reception.onSenderReport(p, time.Now())
			metrics.IncrementRTCPPackets("received", "sender_report")
		case *rtcp.Goodbye:
			metrics.IncrementRTCPPackets("received", "goodbye")
			s.logger.WithField("sources", p.Sources).Info("RTP sender said goodbye")
		}
	}
}

// maybeReport sends a receiver report once per ReportInterval.
func (s *Source) maybeReport(now time.Time) {
	if s.cfg.ReportInterval <= 0 || s.remote == nil || now.Sub(s.lastReport) < s.cfg.ReportInterval {
		return
	}
	s.lastReport = now

	rr := &rtcp.ReceiverReport{
		SSRC:    s.reportSSRC,
		Reports: []rtcp.ReceptionReport{s.reception.block(now)},
	}
	b, err := rr.Marshal()
	if err != nil {
		s.logger.WithError(err).Debug("Failed to marshal RTCP receiver report")
		return
	}
	if _, err := s.conn.WriteToUDP(b, s.remote); err != nil {
		s.sampled.WarnWithCategory(logger.CategoryPacketLoss, "Failed to send RTCP receiver report", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	metrics.IncrementRTCPPackets("sent", "receiver_report")
}
