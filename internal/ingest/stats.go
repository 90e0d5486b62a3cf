package ingest

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// TrackStats is a snapshot of one remote track's receive statistics.
type TrackStats struct {
	SSRC          uint32  `json:"ssrc"`
	Kind          string  `json:"kind"`
	MimeType      string  `json:"mimeType"`
	PacketsRecv   uint32  `json:"packetsReceived"`
	BytesReceived uint64  `json:"bytesReceived"`
	PacketsLost   uint32  `json:"packetsLost"`
	Jitter        float64 `json:"jitter"`
	HighestSeq    uint32  `json:"highestSeq"`
}

// ReceiverStats tracks sequence numbers, loss and interarrival jitter for
// one SSRC (RFC 3550 appendix A.1, A.3 and A.8) and produces reception
// report blocks.
type ReceiverStats struct {
	mu sync.Mutex

	ssrc      uint32
	clockRate uint32
	start     time.Time

	initialized bool
	baseSeq     uint16
	maxSeq      uint16
	cycles      uint32
	received    uint32
	bytes       uint64

	haveTransit bool
	lastTransit uint32
	jitter      float64

	prevExpected uint32
	prevReceived uint32

	lastSRNTP uint64
	lastSRAt  time.Time
}

// NewReceiverStats returns statistics for ssrc at clockRate Hz.
func NewReceiverStats(ssrc, clockRate uint32) *ReceiverStats {
	return &ReceiverStats{ssrc: ssrc, clockRate: clockRate}
}

// Update records pkt as received at arrival.
func (s *ReceiverStats) Update(pkt *rtp.Packet, arrival time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := pkt.SequenceNumber
	if !s.initialized {
		s.initialized = true
		s.start = arrival
		s.baseSeq = seq
		s.maxSeq = seq
	} else if delta := seq - s.maxSeq; delta != 0 && delta < 0x8000 {
		if seq < s.maxSeq {
			s.cycles += 1 << 16
		}
		s.maxSeq = seq
	}
	s.received++
	s.bytes += uint64(pkt.MarshalSize())

	// Arrival time in RTP timestamp units; transit differences are taken
	// modulo 2^32 so timestamp wrap-around does not register as jitter.
	ticks := uint32(uint64(arrival.Sub(s.start).Seconds() * float64(s.clockRate)))
	transit := ticks - pkt.Timestamp
	if s.haveTransit {
		d := int64(int32(transit - s.lastTransit))
		if d < 0 {
			d = -d
		}
		s.jitter += (float64(d) - s.jitter) / 16
	}
	s.haveTransit = true
	s.lastTransit = transit
}

// ObserveSenderReport records the NTP timestamp of the latest Sender
// Report for LSR/DLSR.
func (s *ReceiverStats) ObserveSenderReport(ntpTime uint64, at time.Time) {
	s.mu.Lock()
	s.lastSRNTP = ntpTime
	s.lastSRAt = at
	s.mu.Unlock()
}

func (s *ReceiverStats) expected() uint32 {
	return s.cycles + uint32(s.maxSeq) - uint32(s.baseSeq) + 1
}

func (s *ReceiverStats) lost() uint32 {
	exp := s.expected()
	if s.received >= exp {
		return 0
	}
	return min(exp-s.received, 0x7FFFFF)
}

// Report builds a reception report block covering the interval since the
// previous call.
func (s *ReceiverStats) Report(now time.Time) rtcp.ReceptionReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	rr := rtcp.ReceptionReport{SSRC: s.ssrc}
	if !s.initialized {
		return rr
	}

	expected := s.expected()
	expectedInterval := expected - s.prevExpected
	receivedInterval := s.received - s.prevReceived
	s.prevExpected = expected
	s.prevReceived = s.received

	if expectedInterval > 0 && expectedInterval > receivedInterval {
		lostInterval := expectedInterval - receivedInterval
		rr.FractionLost = uint8(min(uint64(lostInterval)<<8/uint64(expectedInterval), 255))
	}
	rr.TotalLost = s.lost()
	rr.LastSequenceNumber = s.cycles | uint32(s.maxSeq)
	rr.Jitter = uint32(s.jitter)

	if !s.lastSRAt.IsZero() {
		rr.LastSenderReport = uint32(s.lastSRNTP >> 16)
		rr.Delay = uint32(now.Sub(s.lastSRAt).Seconds() * 65536)
	}
	return rr
}

// Snapshot returns cumulative counters.
func (s *ReceiverStats) Snapshot() TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := TrackStats{
		SSRC:          s.ssrc,
		PacketsRecv:   s.received,
		BytesReceived: s.bytes,
		Jitter:        s.jitter,
	}
	if s.initialized {
		st.PacketsLost = s.lost()
		st.HighestSeq = s.cycles | uint32(s.maxSeq)
	}
	return st
}
