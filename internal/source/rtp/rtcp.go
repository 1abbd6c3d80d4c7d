package rtp

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// seconds between the NTP epoch (1900) and the Unix epoch
const ntpEpochOffset = 2208988800

// NTPTime converts t to a 64-bit NTP timestamp as carried in sender reports.
func NTPTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return secs<<32 | frac
}

// IsRTCP reports whether a datagram on a shared RTP/RTCP port is RTCP.
// RTCP packet types 192-223 never collide with RTP payload types outside
// 64-95.
func IsRTCP(b []byte) bool {
	return len(b) >= 2 && b[1] >= 192 && b[1] <= 223
}

// reception keeps the per-sender receive statistics of one SSRC, as needed
// for RTCP reception report blocks.
type reception struct {
	ssrc    uint32
	started bool
	baseSeq uint16
	maxSeq  uint16
	cycles  uint32

	received      uint32
	expectedPrior uint32
	receivedPrior uint32

	// interarrival jitter in RTP clock units
	jitter      float64
	firstArrive time.Time
	lastTransit uint32
	haveTransit bool

	lastSR   uint32 // middle 32 bits of the last sender report's NTP time
	lastSRAt time.Time
}

func (r *reception) update(pkt *rtp.Packet, arrival time.Time) {
	seq := pkt.SequenceNumber
	if !r.started {
		r.started = true
		r.ssrc = pkt.SSRC
		r.baseSeq = seq
		r.maxSeq = seq
		r.firstArrive = arrival
	} else if diff := seq - r.maxSeq; diff != 0 && diff < 1<<15 {
		if seq < r.maxSeq {
			r.cycles += 1 << 16
		}
		r.maxSeq = seq
	}
	r.received++

	units := uint32(arrival.Sub(r.firstArrive).Seconds() * ClockRate)
	transit := units - pkt.Timestamp
	if r.haveTransit {
		d := int32(transit - r.lastTransit)
		if d < 0 {
			d = -d
		}
		r.jitter += (float64(d) - r.jitter) / 16
	}
	r.lastTransit = transit
	r.haveTransit = true
}

func (r *reception) onSenderReport(sr *rtcp.SenderReport, now time.Time) {
	r.lastSR = uint32(sr.NTPTime >> 16)
	r.lastSRAt = now
}

func (r *reception) extendedHighest() uint32 {
	return r.cycles | uint32(r.maxSeq)
}

// block builds a reception report and starts a new reporting interval.
func (r *reception) block(now time.Time) rtcp.ReceptionReport {
	expected := r.extendedHighest() - uint32(r.baseSeq) + 1
	var lost uint32
	if expected > r.received {
		lost = expected - r.received
	}
	// the field is 24 bits
	lost = min(lost, 0x7fffff)

	expectedInterval := expected - r.expectedPrior
	receivedInterval := r.received - r.receivedPrior
	r.expectedPrior = expected
	r.receivedPrior = r.received

	var fraction uint8
	if expectedInterval > 0 && expectedInterval > receivedInterval {
		fraction = uint8(uint64(expectedInterval-receivedInterval) << 8 / uint64(expectedInterval))
	}

	rep := rtcp.ReceptionReport{
		SSRC:               r.ssrc,
		FractionLost:       fraction,
		TotalLost:          lost,
		LastSequenceNumber: r.extendedHighest(),
		Jitter:             uint32(r.jitter),
	}
	if !r.lastSRAt.IsZero() {
		rep.LastSenderReport = r.lastSR
		rep.Delay = uint32(now.Sub(r.lastSRAt).Seconds() * 65536)
	}
	return rep
}
