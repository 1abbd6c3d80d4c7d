package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"

	"github.com/zsiec/viewfinder/internal/frame"
)

// Sampling is the RFC 4175 sampling structure of the stream. Only 8-bit
// depth is supported.
type Sampling string

const (
	SamplingYCbCr422 Sampling = "YCbCr-4:2:2"
	SamplingRGB      Sampling = "RGB"
)

// ClockRate is the RTP clock used for uncompressed video.
const ClockRate = 90000

const (
	rtpHeaderSize  = 12
	extSeqSize     = 2
	lineHeaderSize = 6
)

var (
	// ErrIncompleteFrame is returned when a frame is abandoned during
	// reassembly. Wrapped errors carry the reason.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrMalformedPayload is returned for payloads that do not parse or that
	// address pixels outside the frame.
	ErrMalformedPayload = errors.New("malformed RFC 4175 payload")
)

// ParseSampling maps a config string to a Sampling.
func ParseSampling(s string) (Sampling, error) {
	switch Sampling(s) {
	case SamplingYCbCr422, SamplingRGB:
		return Sampling(s), nil
	}
	return "", fmt.Errorf("unsupported sampling %q", s)
}

// PixelFormat is the raw frame format the sampling is delivered as. 8-bit
// 4:2:2 pgroups are laid out Cb Y0 Cr Y1, which is UYVY.
func (s Sampling) PixelFormat() frame.PixelFormat {
	switch s {
	case SamplingYCbCr422:
		return frame.FormatUYVY
	case SamplingRGB:
		return frame.FormatRGB24
	}
	return frame.FormatUnknown
}

// pgroup returns the pixel group size in bytes and pixels.
func (s Sampling) pgroup() (bytes, pixels int) {
	switch s {
	case SamplingYCbCr422:
		return 4, 2
	case SamplingRGB:
		return 3, 1
	}
	return 0, 0
}

type lineSegment struct {
	length int // bytes
	line   int
	offset int // pixels
}

// IncompleteReason returns the reason label of an ErrIncompleteFrame.
func IncompleteReason(err error) string {
	var ie *incompleteError
	if errors.As(err, &ie) {
		return ie.reason
	}
	return ""
}

type incompleteError struct {
	reason string
	seq    uint64
}

func (e *incompleteError) Error() string {
	return fmt.Sprintf("%v: frame %d: %s", ErrIncompleteFrame, e.seq, e.reason)
}

func (e *incompleteError) Unwrap() error {
	return ErrIncompleteFrame
}

// DepacketizerStats counts reassembly outcomes.
type DepacketizerStats struct {
	Packets    uint64 `json:"packets"`
	Lost       uint64 `json:"lost"`
	Frames     uint64 `json:"frames"`
	Incomplete uint64 `json:"incomplete"`
	Malformed  uint64 `json:"malformed"`
}

// Depacketizer reassembles RFC 4175 packets of one SSRC into raw frames.
// The frame buffer is reused; a frame returned by Push is valid until the
// next call.
type Depacketizer struct {
	width    int
	height   int
	sampling Sampling
	format   frame.PixelFormat
	stride   int
	buf      []byte

	inFrame   bool
	sawStart  bool
	reason    string // why the current frame will be dropped
	timestamp uint32
	lastSeq   uint16
	haveSeq   bool
	frameSeq  uint64

	stats DepacketizerStats
}

// NewDepacketizer returns a depacketizer for frames of the given geometry.
func NewDepacketizer(width, height int, sampling Sampling) (*Depacketizer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	if _, px := sampling.pgroup(); px == 0 {
		return nil, fmt.Errorf("unsupported sampling %q", sampling)
	} else if width%px != 0 {
		return nil, fmt.Errorf("width %d is not a multiple of the %s pixel group", width, sampling)
	}

	format := sampling.PixelFormat()
	stride := format.MinStride(width)
	return &Depacketizer{
		width:    width,
		height:   height,
		sampling: sampling,
		format:   format,
		stride:   stride,
		buf:      make([]byte, format.BufferSize(width, height, stride)),
	}, nil
}

// Stats returns the reassembly counters.
func (d *Depacketizer) Stats() DepacketizerStats {
	return d.stats
}

// Push adds one packet. It returns a frame when pkt completes one, and an
// error wrapping ErrIncompleteFrame or ErrMalformedPayload when data was
// discarded. The second return value counts packets missing before pkt.
func (d *Depacketizer) Push(pkt *rtp.Packet) (*frame.RawFrame, int, error) {
	d.stats.Packets++

	lost := 0
	ahead := true
	if d.haveSeq {
		diff := pkt.SequenceNumber - d.lastSeq
		switch {
		case diff == 0 || diff >= 1<<15:
			// duplicate or late; the gap it fills was already counted
			ahead = false
		case diff > 1:
			lost = int(diff - 1)
			d.stats.Lost += uint64(lost)
		}
	}
	if ahead {
		d.lastSeq = pkt.SequenceNumber
		d.haveSeq = true
	}

	var abandoned error
	if d.inFrame && pkt.Timestamp != d.timestamp {
		// the marker of the previous frame never arrived
		abandoned = d.abandon("missing_marker")
	}

	if !d.inFrame {
		d.inFrame = true
		d.reason = ""
		d.sawStart = false
		d.timestamp = pkt.Timestamp
		d.frameSeq++
	}
	if lost > 0 && d.reason == "" {
		d.reason = "sequence_gap"
	}

	err := d.copyPayload(pkt.Payload)
	if err != nil {
		d.stats.Malformed++
		if d.reason == "" {
			d.reason = "malformed"
		}
	}

	if !pkt.Marker {
		return nil, lost, errors.Join(abandoned, err)
	}

	if d.reason == "" && !d.sawStart {
		// joined mid-frame
		d.reason = "missing_start"
	}
	if d.reason != "" {
		return nil, lost, errors.Join(abandoned, err, d.abandon(d.reason))
	}

	d.inFrame = false
	d.stats.Frames++
	return &frame.RawFrame{
		Seq:    d.frameSeq,
		Width:  d.width,
		Height: d.height,
		Format: d.format,
		Stride: d.stride,
		Data:   d.buf,
	}, lost, abandoned
}

func (d *Depacketizer) abandon(reason string) error {
	d.stats.Incomplete++
	d.inFrame = false
	return &incompleteError{reason: reason, seq: d.frameSeq}
}

func (d *Depacketizer) copyPayload(payload []byte) error {
	if len(payload) < extSeqSize+lineHeaderSize {
		return fmt.Errorf("%w: payload of %d bytes", ErrMalformedPayload, len(payload))
	}

	segments, data, err := parseLineHeaders(payload[extSeqSize:])
	if err != nil {
		return err
	}

	groupBytes, groupPixels := d.sampling.pgroup()
	for _, seg := range segments {
		if len(data) < seg.length {
			return fmt.Errorf("%w: segment of %d bytes, %d left", ErrMalformedPayload, seg.length, len(data))
		}
		if seg.line >= d.height || seg.offset%groupPixels != 0 {
			return fmt.Errorf("%w: segment at line %d offset %d", ErrMalformedPayload, seg.line, seg.offset)
		}
		start := seg.offset / groupPixels * groupBytes
		if start+seg.length > d.stride {
			return fmt.Errorf("%w: segment overruns line %d", ErrMalformedPayload, seg.line)
		}
		if seg.line == 0 && seg.offset == 0 {
			d.sawStart = true
		}
		copy(d.buf[seg.line*d.stride+start:], data[:seg.length])
		data = data[seg.length:]
	}
	return nil
}

func parseLineHeaders(b []byte) ([]lineSegment, []byte, error) {
	var segments []lineSegment
	for {
		if len(b) < lineHeaderSize {
			return nil, nil, fmt.Errorf("%w: truncated line header", ErrMalformedPayload)
		}
		seg := lineSegment{
			length: int(binary.BigEndian.Uint16(b[0:2])),
			line:   int(binary.BigEndian.Uint16(b[2:4]) & 0x7fff),
			offset: int(binary.BigEndian.Uint16(b[4:6]) & 0x7fff),
		}
		cont := b[4]&0x80 != 0
		segments = append(segments, seg)
		b = b[lineHeaderSize:]
		if !cont {
			return segments, b, nil
		}
	}
}

// Packetizer splits raw frames into RFC 4175 packets that fit an MTU.
type Packetizer struct {
	mtu         int
	payloadType uint8
	ssrc        uint32
	sampling    Sampling
	seq         uint32 // low 16 bits go in the RTP header
}

// NewPacketizer returns a packetizer producing packets of at most mtu bytes.
func NewPacketizer(mtu int, payloadType uint8, ssrc uint32, sampling Sampling) (*Packetizer, error) {
	groupBytes, _ := sampling.pgroup()
	if groupBytes == 0 {
		return nil, fmt.Errorf("unsupported sampling %q", sampling)
	}
	if mtu < rtpHeaderSize+extSeqSize+lineHeaderSize+groupBytes {
		return nil, fmt.Errorf("mtu %d too small", mtu)
	}
	return &Packetizer{mtu: mtu, payloadType: payloadType, ssrc: ssrc, sampling: sampling}, nil
}

// Packetize returns the packets carrying raw, the last one with the marker
// bit set. raw must be in the sampling's pixel format.
func (p *Packetizer) Packetize(raw *frame.RawFrame, timestamp uint32) ([]*rtp.Packet, error) {
	if raw.Format != p.sampling.PixelFormat() {
		return nil, fmt.Errorf("frame format %s does not match sampling %s", raw.Format, p.sampling)
	}
	groupBytes, groupPixels := p.sampling.pgroup()
	if raw.Width%groupPixels != 0 {
		return nil, fmt.Errorf("width %d is not a multiple of the pixel group", raw.Width)
	}
	stride := raw.RowStride()
	lineBytes := raw.Width / groupPixels * groupBytes
	if len(raw.Data) < stride*(raw.Height-1)+lineBytes {
		return nil, fmt.Errorf("frame buffer too short")
	}

	maxPayload := p.mtu - rtpHeaderSize
	var packets []*rtp.Packet
	line, offset := 0, 0 // offset in pixels

	for line < raw.Height {
		var segs []lineSegment
		room := maxPayload - extSeqSize
		for line < raw.Height && room >= lineHeaderSize+groupBytes {
			groups := min((room-lineHeaderSize)/groupBytes, (raw.Width-offset)/groupPixels)
			seg := lineSegment{length: groups * groupBytes, line: line, offset: offset}
			segs = append(segs, seg)
			room -= lineHeaderSize + seg.length
			offset += groups * groupPixels
			if offset == raw.Width {
				line++
				offset = 0
			}
		}

		payload := make([]byte, extSeqSize, maxPayload)
		binary.BigEndian.PutUint16(payload, uint16(p.seq>>16))
		for i, seg := range segs {
			var hdr [lineHeaderSize]byte
			binary.BigEndian.PutUint16(hdr[0:2], uint16(seg.length))
			binary.BigEndian.PutUint16(hdr[2:4], uint16(seg.line))
			binary.BigEndian.PutUint16(hdr[4:6], uint16(seg.offset))
			if i < len(segs)-1 {
				hdr[4] |= 0x80
			}
			payload = append(payload, hdr[:]...)
		}
		for _, seg := range segs {
			start := seg.line*stride + seg.offset/groupPixels*groupBytes
			payload = append(payload, raw.Data[start:start+seg.length]...)
		}

		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    p.payloadType,
				SequenceNumber: uint16(p.seq),
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		})
		p.seq++
	}

	if len(packets) > 0 {
		packets[len(packets)-1].Marker = true
	}
	return packets, nil
}
