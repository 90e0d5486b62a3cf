package fmp4

import (
	"encoding/binary"

	"github.com/zsiec/whipfan/internal/h264"
	"github.com/zsiec/whipfan/internal/media"
)

// Sample is one access unit in AVC length-prefixed form.
type Sample struct {
	Data       []byte
	DecodeTime uint64
	Duration   uint32
	Keyframe   bool
}

type accessUnit struct {
	pts      uint32
	data     []byte
	keyframe bool
}

// Builder assembles Units into samples and samples into GOPs. Consecutive
// Units with the same PTS form one access unit. A sample's duration is the
// PTS difference to the next access unit, so each sample is held back
// until its successor starts.
type Builder struct {
	cur      *accessUnit
	last     *accessUnit
	lastDur  uint32
	decode   uint64
	gop      []Sample
	dropping bool
}

func NewBuilder() *Builder {
	return &Builder{dropping: true}
}

// Push adds u and returns a complete GOP when u starts the next one.
// Units before the first IDR are dropped.
func (b *Builder) Push(u media.Unit) []Sample {
	if len(u.Payload) == 0 {
		return nil
	}
	typ := h264.NALType(u.Payload[0])
	if h264.IsParameterSet(typ) {
		return nil
	}
	switch typ {
	case h264.NALTypeAUD, h264.NALTypeSEI, h264.NALTypeFillerData:
		return nil
	}

	var gop []Sample
	if b.cur != nil && b.cur.pts != u.PTS {
		gop = b.complete(b.cur)
		b.cur = nil
	}
	if b.cur == nil {
		if b.dropping && !h264.IsKeyframe(typ) {
			return gop
		}
		b.dropping = false
		b.cur = &accessUnit{pts: u.PTS}
	}
	b.cur.data = binary.BigEndian.AppendUint32(b.cur.data, uint32(len(u.Payload)))
	b.cur.data = append(b.cur.data, u.Payload...)
	if h264.IsKeyframe(typ) {
		b.cur.keyframe = true
	}
	return gop
}

// complete finalizes the previous access unit now that au follows it.
func (b *Builder) complete(au *accessUnit) []Sample {
	var gop []Sample
	if b.last != nil {
		b.lastDur = au.pts - b.last.pts
		b.appendLast()
		if au.keyframe {
			gop, b.gop = b.gop, nil
		}
	}
	b.last = au
	return gop
}

func (b *Builder) appendLast() {
	b.gop = append(b.gop, Sample{
		Data:       b.last.data,
		DecodeTime: b.decode,
		Duration:   b.lastDur,
		Keyframe:   b.last.keyframe,
	})
	b.decode += uint64(b.lastDur)
}

// Flush returns the samples still held, giving the final access unit the
// duration of its predecessor.
func (b *Builder) Flush() []Sample {
	if b.cur != nil {
		if gop := b.complete(b.cur); gop != nil {
			b.gop = append(gop, b.gop...)
		}
		b.cur = nil
	}
	if b.last != nil {
		b.appendLast()
		b.last = nil
	}
	gop := b.gop
	b.gop = nil
	return gop
}
