package fmp4

import "github.com/zsiec/whipfan/internal/media"

// DefaultOpusDuration is the duration given to an Opus packet whose
// successor never arrives: 20 ms at 48 kHz.
const DefaultOpusDuration = 960

// AudioBuilder turns Opus Units into samples. Each Unit is one packet and
// its duration is the PTS difference to the next one, so a sample is
// returned once its successor arrives. Decode times start at zero.
type AudioBuilder struct {
	last    *media.Unit
	lastDur uint32
	decode  uint64
}

func NewAudioBuilder() *AudioBuilder {
	return &AudioBuilder{lastDur: DefaultOpusDuration}
}

// Push adds u and returns the sample it completes, if any.
func (b *AudioBuilder) Push(u media.Unit) []Sample {
	if len(u.Payload) == 0 {
		return nil
	}
	var out []Sample
	if b.last != nil {
		if d := u.PTS - b.last.PTS; int32(d) > 0 {
			b.lastDur = d
		}
		out = append(out, b.emit())
	}
	b.last = &u
	return out
}

// Flush returns the held packet with the duration of its predecessor.
func (b *AudioBuilder) Flush() []Sample {
	if b.last == nil {
		return nil
	}
	s := b.emit()
	b.last = nil
	return []Sample{s}
}

func (b *AudioBuilder) emit() Sample {
	s := Sample{
		Data:       b.last.Payload,
		DecodeTime: b.decode,
		Duration:   b.lastDur,
		Keyframe:   true,
	}
	b.decode += uint64(b.lastDur)
	return s
}
