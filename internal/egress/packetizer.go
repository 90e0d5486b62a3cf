package egress

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/h264"
	"github.com/zsiec/whipfan/internal/media"
)

// MTU is the maximum RTP packet size produced by a Packetizer.
const MTU = 1200

// Packetizer converts Units of one Track back into RTP packets with a
// random initial sequence number and timestamp.
type Packetizer struct {
	codec codec.Codec
	pk    rtp.Packetizer

	started bool
	lastPTS uint32
}

// NewPacketizer returns a Packetizer for c. ssrc and payloadType are
// stamped on every packet.
func NewPacketizer(c codec.Codec, payloadType uint8, ssrc uint32) (*Packetizer, error) {
	var payloader rtp.Payloader
	switch c.(type) {
	case codec.H264:
		payloader = &codecs.H264Payloader{}
	case codec.Opus:
		payloader = &codecs.OpusPayloader{}
	default:
		return nil, fmt.Errorf("egress: no payloader for %s", c.MimeType())
	}
	return &Packetizer{
		codec: c,
		pk:    rtp.NewPacketizer(MTU, payloadType, ssrc, payloader, rtp.NewRandomSequencer(), c.ClockRate()),
	}, nil
}

// Refresh replaces the parameter sets sent ahead of IDRs with those of c.
// It has no effect unless both c and the Packetizer's codec are H.264.
func (p *Packetizer) Refresh(c codec.Codec) {
	next, ok := c.(codec.H264)
	if !ok || next.Config == nil {
		return
	}
	if _, ok := p.codec.(codec.H264); ok {
		p.codec = next
	}
}

// Packetize returns the RTP packets for u. The RTP timestamp advances by
// the PTS difference to the previous Unit. Raw SPS and PPS Units yield no
// packets; the active parameter sets are sent ahead of every IDR instead.
func (p *Packetizer) Packetize(u media.Unit) []*rtp.Packet {
	if len(u.Payload) == 0 {
		return nil
	}
	payload := u.Payload
	if c, ok := p.codec.(codec.H264); ok {
		typ := h264.NALType(u.Payload[0])
		switch {
		case h264.IsParameterSet(typ):
			return nil
		case h264.IsKeyframe(typ):
			payload = h264.AppendAnnexB(nil, c.Config.SPS().Payload, c.Config.PPS().Payload, u.Payload)
		default:
			payload = h264.AppendAnnexB(nil, u.Payload)
		}
	}

	if p.started && u.PTS != p.lastPTS {
		p.pk.SkipSamples(u.PTS - p.lastPTS)
	}
	p.started = true
	p.lastPTS = u.PTS

	pkts := p.pk.Packetize(payload, 0)
	if len(pkts) > 0 && p.codec.Kind() == codec.KindVideo {
		pkts[len(pkts)-1].Marker = u.Marker
	}
	return pkts
}
