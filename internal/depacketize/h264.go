package depacketize

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/h264"
)

var errMalformedSTAPA = errors.New("malformed STAP-A")

// H264 depacketizes RFC 6184 packetization-mode 1 payloads: single NAL
// unit packets, STAP-A and FU-A.
type H264 struct {
	log     *slog.Logger
	onCodec CodecFunc

	// fragment holds an FU-A reassembly in progress; nil when none is open.
	fragment []byte

	spsCandidate []byte
	ppsCandidate []byte
	accepted     *h264.Config
}

// NewH264 returns a depacketizer that reports each newly accepted pair of
// parameter sets to onCodec. If log is nil, slog.Default() is used.
func NewH264(onCodec CodecFunc, log *slog.Logger) *H264 {
	if log == nil {
		log = slog.Default()
	}
	return &H264{
		log:     log.With("component", "h264-depacketizer"),
		onCodec: onCodec,
	}
}

// Config returns the accepted parameter sets, or nil before detection.
func (d *H264) Config() *h264.Config {
	return d.accepted
}

// Parse returns the NAL units completed by payload, whether they start a
// sync point, and whether parameter sets have been accepted. Nothing is
// emitted before the first accepted pair. SPS and PPS units are held as
// candidates rather than emitted; SEI, AUD and filler units are dropped.
func (d *H264) Parse(payload []byte) ([][]byte, bool, bool) {
	if len(payload) == 0 {
		return nil, false, false
	}

	var nalus [][]byte
	switch typ := h264.NALType(payload[0]); {
	case typ >= 1 && typ <= 23:
		nalus = [][]byte{payload}
	case typ == h264.NALTypeSTAPA:
		var err error
		nalus, err = unpackSTAPA(payload[1:])
		if err != nil {
			d.log.Warn("dropping packet", "error", err, "len", len(payload))
			nalus = nil
		}
	case typ == h264.NALTypeFUA:
		if nalu := d.reassemble(payload); nalu != nil {
			nalus = [][]byte{nalu}
		}
	default:
		d.log.Warn("dropping unsupported nal type", "type", typ)
	}

	out := make([][]byte, 0, len(nalus))
	keyframe, params := false, false
	for _, nalu := range nalus {
		switch h264.NALType(nalu[0]) {
		case h264.NALTypeSPS:
			d.spsCandidate = bytes.Clone(nalu)
			d.ppsCandidate = nil
			keyframe, params = true, true
		case h264.NALTypePPS:
			d.ppsCandidate = bytes.Clone(nalu)
			keyframe, params = true, true
		case h264.NALTypeIDR:
			keyframe = true
			out = append(out, nalu)
		case h264.NALTypeSEI, h264.NALTypeAUD, h264.NALTypeFillerData:
			// not forwarded
		default:
			out = append(out, nalu)
		}
	}

	if params && d.detect() {
		keyframe = true
	}
	if d.accepted == nil {
		return nil, false, false
	}
	return out, keyframe, true
}

// detect adopts the candidate pair when both are present and differ from
// the accepted pair. A pair that fails to parse is discarded and the
// previously accepted pair stays in effect.
func (d *H264) detect() bool {
	if d.spsCandidate == nil || d.ppsCandidate == nil {
		return false
	}
	cfg, err := h264.NewConfig(d.spsCandidate, d.ppsCandidate)
	if err != nil {
		d.log.Warn("parameter sets rejected", "error", err)
		d.spsCandidate, d.ppsCandidate = nil, nil
		if d.accepted != nil {
			d.spsCandidate = d.accepted.SPS().Payload
			d.ppsCandidate = d.accepted.PPS().Payload
		}
		return false
	}
	if cfg.Equal(d.accepted) {
		return false
	}

	d.accepted = cfg
	d.log.Info("codec detected", "codec", cfg.CodecString(), "width", cfg.Width(), "height", cfg.Height())
	if d.onCodec != nil {
		d.onCodec(codec.H264{Config: cfg})
	}
	return true
}

// reassemble handles one FU-A payload and returns the NAL unit it
// completes, if any.
func (d *H264) reassemble(payload []byte) []byte {
	if len(payload) < 2 {
		d.log.Warn("dropping short FU-A", "len", len(payload))
		return nil
	}
	indicator, header := payload[0], payload[1]
	start := header&0x80 != 0
	end := header&0x40 != 0

	switch {
	case start:
		if d.fragment != nil {
			d.log.Debug("discarding incomplete FU-A", "len", len(d.fragment))
		}
		d.fragment = make([]byte, 0, 4*len(payload))
		d.fragment = append(d.fragment, indicator&0xE0|header&0x1F)
		d.fragment = append(d.fragment, payload[2:]...)
	case d.fragment != nil:
		d.fragment = append(d.fragment, payload[2:]...)
	default:
		// No start fragment seen yet.
	}

	if !end {
		return nil
	}
	if len(d.fragment) == 0 {
		d.log.Debug("dropping FU-A end without start")
		return nil
	}
	nalu := d.fragment
	d.fragment = nil
	return nalu
}

func unpackSTAPA(p []byte) ([][]byte, error) {
	var nalus [][]byte
	for len(p) > 0 {
		if len(p) < 2 {
			return nil, fmt.Errorf("%w: %d trailing bytes", errMalformedSTAPA, len(p))
		}
		n := int(binary.BigEndian.Uint16(p))
		p = p[2:]
		if n == 0 || n > len(p) {
			return nil, fmt.Errorf("%w: nal size %d with %d bytes left", errMalformedSTAPA, n, len(p))
		}
		nalus = append(nalus, p[:n])
		p = p[n:]
	}
	return nalus, nil
}
