package ingest

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/pion/rtcp"

	"github.com/zsiec/whipfan/internal/codec"
)

const (
	// DefaultFeedbackInterval is how often PLI, REMB and RR are sent.
	DefaultFeedbackInterval = time.Second
	// DefaultREMBBitrate is the receiver-estimated maximum bitrate
	// advertised to publishers, in bits per second.
	DefaultREMBBitrate = 3_000_000
)

// RTCPWriter sends RTCP packets toward the publisher.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// generateSSRC returns a random 32-bit SSRC for locally originated RTCP.
func generateSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}

// feedbackPackets builds one round of feedback for the given tracks.
func feedbackPackets(senderSSRC uint32, bitrate float32, tracks []*track, now time.Time) []rtcp.Packet {
	var (
		pkts    []rtcp.Packet
		ssrcs   []uint32
		reports []rtcp.ReceptionReport
	)
	for _, tr := range tracks {
		if tr.kind == codec.KindVideo {
			pkts = append(pkts, &rtcp.PictureLossIndication{SenderSSRC: senderSSRC, MediaSSRC: tr.ssrc})
		}
		ssrcs = append(ssrcs, tr.ssrc)
		reports = append(reports, tr.stats.Report(now))
	}
	if len(ssrcs) == 0 {
		return nil
	}
	pkts = append(pkts,
		&rtcp.ReceiverEstimatedMaximumBitrate{SenderSSRC: senderSSRC, Bitrate: bitrate, SSRCs: ssrcs},
		&rtcp.ReceiverReport{SSRC: senderSSRC, Reports: reports},
	)
	return pkts
}

func (s *Session) feedbackLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.feedbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pkts := feedbackPackets(s.localSSRC, s.rembBitrate, s.snapshotTracks(), now)
			if len(pkts) == 0 {
				continue
			}
			if err := s.feedback.WriteRTCP(pkts); err != nil {
				s.log.Debug("rtcp feedback failed", "error", err)
			}
		}
	}
}
