package egress

import (
	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/media"
)

// KeyframeGate holds back Units until a consumer can start decoding.
// Video is dropped until the first keyframe. Audio is dropped until video
// has started, unless the stream has no video.
type KeyframeGate struct {
	hasVideo bool
	started  bool
}

// NewKeyframeGate returns a gate for a stream with or without video.
func NewKeyframeGate(hasVideo bool) *KeyframeGate {
	return &KeyframeGate{hasVideo: hasVideo}
}

// Allow reports whether u of the given kind should be delivered.
func (g *KeyframeGate) Allow(kind codec.Kind, u media.Unit) bool {
	if !g.hasVideo {
		return true
	}
	if kind == codec.KindVideo && !g.started && u.IsKeyframe() {
		g.started = true
	}
	return g.started
}
