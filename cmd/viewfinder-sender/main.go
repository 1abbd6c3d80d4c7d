// Command viewfinder-sender streams a test pattern as RFC 4175 raw video over
// RTP/UDP, for feeding a viewfinder rtp source.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zsiec/viewfinder/internal/config"
	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/source/rtp"
	"github.com/zsiec/viewfinder/internal/source/testpattern"
)

const (
	rtpClockRate = 90000
	// sender reports go out this often, receiver reports arrive on their own
	senderReportInterval = time.Second
)

// summary is what a finished send reports.
type summary struct {
	Frames  uint64
	Reports uint64 // receiver reports received
}

type options struct {
	addr        string
	width       int
	height      int
	fps         float64
	sampling    string
	mtu         int
	payloadType uint
	frames      uint64
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "127.0.0.1:5004", "Destination host:port")
	flag.IntVar(&opts.width, "width", 640, "Frame width")
	flag.IntVar(&opts.height, "height", 480, "Frame height")
	flag.Float64Var(&opts.fps, "fps", 30, "Frames per second")
	flag.StringVar(&opts.sampling, "sampling", string(rtp.SamplingYCbCr422), "YCbCr-4:2:2 or RGB")
	flag.IntVar(&opts.mtu, "mtu", 1400, "Maximum RTP packet size in bytes")
	flag.UintVar(&opts.payloadType, "pt", 96, "RTP payload type")
	flag.Uint64Var(&opts.frames, "frames", 0, "Stop after this many frames (0 runs until interrupted)")
	flag.Parse()

	log, err := logger.New(&config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := send(ctx, opts, logger.WithComponent(logger.NewLogrusAdapter(logrus.NewEntry(log)), "sender")); err != nil {
		log.WithError(err).Fatal("Sender failed")
	}
}

func send(ctx context.Context, opts options, log logger.Logger) (summary, error) {
	var res summary
	log = logger.OrNull(log)
	sampling, err := rtp.ParseSampling(opts.sampling)
	if err != nil {
		return res, err
	}
	if opts.payloadType > 127 {
		return res, fmt.Errorf("payload type %d out of range", opts.payloadType)
	}

	src, err := testpattern.New(testpattern.Config{
		Width:     opts.width,
		Height:    opts.height,
		FrameRate: opts.fps,
		Format:    sampling.PixelFormat(),
		MaxFrames: opts.frames,
	}, log)
	if err != nil {
		return res, err
	}

	ssrc := rand.Uint32()
	packetizer, err := rtp.NewPacketizer(opts.mtu, uint8(opts.payloadType), ssrc, sampling)
	if err != nil {
		return res, err
	}

	conn, err := net.Dial("udp", opts.addr)
	if err != nil {
		return res, fmt.Errorf("failed to dial %s: %w", opts.addr, err)
	}

	// receiver reports come back on the same socket
	var reports atomic.Uint64
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readReports(conn, ssrc, log, &reports)
	}()
	defer func() {
		conn.Close()
		<-readerDone
	}()

	log.WithFields(map[string]interface{}{
		"addr":     opts.addr,
		"size":     fmt.Sprintf("%dx%d", opts.width, opts.height),
		"fps":      opts.fps,
		"sampling": string(sampling),
	}).Info("Sending test pattern")

	var (
		limiter    *rate.Limiter
		sendErr    error
		packets    uint32
		octets     uint32
		lastReport time.Time
	)
	buf := make([]byte, opts.mtu)

	err = src.Run(ctx, func(raw *frame.RawFrame) {
		if sendErr != nil {
			return
		}
		ts := uint32(float64(raw.Seq) * rtpClockRate / opts.fps)
		pkts, err := packetizer.Packetize(raw, ts)
		if err != nil {
			sendErr = err
			return
		}

		// spread a frame's packets over most of the frame interval
		if limiter == nil {
			pps := float64(len(pkts)) * opts.fps * 1.25
			limiter = rate.NewLimiter(rate.Limit(pps), max(1, len(pkts)/16))
		}

		for _, pkt := range pkts {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			n, err := pkt.MarshalTo(buf)
			if err != nil {
				sendErr = fmt.Errorf("failed to marshal packet: %w", err)
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				log.WithError(err).Warn("UDP write failed")
				continue
			}
			packets++
			octets += uint32(len(pkt.Payload))
		}

		if now := time.Now(); now.Sub(lastReport) >= senderReportInterval {
			lastReport = now
			sendSenderReport(conn, &rtcp.SenderReport{
				SSRC:        ssrc,
				NTPTime:     rtp.NTPTime(now),
				RTPTime:     ts,
				PacketCount: packets,
				OctetCount:  octets,
			}, log)
		}

		res.Frames++
		if res.Frames%uint64(max(1, int(opts.fps)*10)) == 0 {
			log.WithField("frames", res.Frames).Info("Progress")
		}
	})
	res.Reports = reports.Load()
	if sendErr != nil {
		return res, sendErr
	}
	if err != nil {
		return res, err
	}

	log.WithFields(map[string]interface{}{
		"frames":           res.Frames,
		"receiver_reports": res.Reports,
	}).Info("Sender finished")
	return res, nil
}

func sendSenderReport(conn net.Conn, sr *rtcp.SenderReport, log logger.Logger) {
	b, err := sr.Marshal()
	if err != nil {
		log.WithError(err).Warn("Failed to marshal RTCP sender report")
		return
	}
	if _, err := conn.Write(b); err != nil {
		log.WithError(err).Debug("RTCP sender report write failed")
	}
}

// readReports logs receiver reports about ssrc until conn is closed.
func readReports(conn net.Conn, ssrc uint32, log logger.Logger, count *atomic.Uint64) {
	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP port unreachable until the receiver is up
			continue
		}
		if !rtp.IsRTCP(buf[:n]) {
			continue
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			log.WithError(err).Debug("Failed to parse RTCP packet")
			continue
		}
		for _, p := range packets {
			rr, ok := p.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, block := range rr.Reports {
				if block.SSRC != ssrc {
					continue
				}
				count.Add(1)
				fields := map[string]interface{}{
					"fraction_lost": float64(block.FractionLost) / 256,
					"total_lost":    block.TotalLost,
					"highest_seq":   block.LastSequenceNumber,
					"jitter":        block.Jitter,
				}
				if rtt, ok := roundTrip(block, time.Now()); ok {
					fields["rtt"] = rtt.String()
				}
				log.WithFields(fields).Info("Receiver report")
			}
		}
	}
}

// roundTrip derives the RTT from a report block echoing one of our sender
// reports, per RFC 3550 section 6.4.1.
func roundTrip(block rtcp.ReceptionReport, now time.Time) (time.Duration, bool) {
	if block.LastSenderReport == 0 {
		return 0, false
	}
	arrival := uint32(rtp.NTPTime(now) >> 16)
	units := arrival - block.LastSenderReport - block.Delay
	if int32(units) < 0 {
		return 0, false
	}
	return time.Duration(uint64(units) * uint64(time.Second) >> 16), true
}
