package depacketize

import "github.com/zsiec/whipfan/internal/codec"

// Opus passes payloads through unchanged. Each RTP payload is one Opus
// packet (RFC 7587).
type Opus struct {
	onCodec CodecFunc
	seen    bool
}

// NewOpus returns a depacketizer that reports codec.Opus to onCodec on the
// first payload.
func NewOpus(onCodec CodecFunc) *Opus {
	return &Opus{onCodec: onCodec}
}

// Parse returns payload as a single unit. Opus needs no parameter sets, so
// output is never suppressed and no unit is a keyframe.
func (d *Opus) Parse(payload []byte) ([][]byte, bool, bool) {
	if !d.seen {
		d.seen = true
		if d.onCodec != nil {
			d.onCodec(codec.Opus{})
		}
	}
	return [][]byte{payload}, false, true
}
