// Package codec describes the elementary-stream codecs the relay carries.
//
// [Codec] is a closed set: [Opus] and [H264]. Call sites switch on the
// concrete type; adding a codec means adding a type here and a case at
// each switch.
package codec

import (
	"fmt"
	"strings"

	"github.com/zsiec/whipfan/internal/h264"
)

// MIME types as they appear in SDP rtpmap lines and pion codec parameters.
const (
	MimeTypeH264 = "video/H264"
	MimeTypeOpus = "audio/opus"
)

// Clock rates fixed by RFC 6184 and RFC 7587.
const (
	ClockRateH264 = 90000
	ClockRateOpus = 48000
)

// Kind is the media kind of a codec.
type Kind int

const (
	KindAudio Kind = iota + 1
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Codec is implemented only by Opus and H264.
type Codec interface {
	Kind() Kind
	MimeType() string
	ClockRate() uint32
	// String returns the RFC 6381 codec parameter ("avc1.42E01F", "opus").
	String() string
	// Key returns the comparable identity used to deduplicate Tracks.
	Key() Key

	sealed()
}

// Key identifies a codec for map lookups. Two codecs with equal Keys are
// served by the same Track.
type Key struct {
	Kind      Kind
	MimeType  string
	ClockRate uint32
	Width     uint32
	Height    uint32
}

// Opus is 48 kHz stereo Opus.
type Opus struct{}

func (Opus) Kind() Kind        { return KindAudio }
func (Opus) MimeType() string  { return MimeTypeOpus }
func (Opus) ClockRate() uint32 { return ClockRateOpus }
func (Opus) Channels() uint16  { return 2 }
func (Opus) String() string    { return "opus" }
func (o Opus) Key() Key {
	return Key{Kind: KindAudio, MimeType: MimeTypeOpus, ClockRate: ClockRateOpus}
}
func (Opus) sealed() {}

// H264 is H.264 video described by an accepted SPS/PPS pair.
type H264 struct {
	Config *h264.Config
}

func (H264) Kind() Kind        { return KindVideo }
func (H264) MimeType() string  { return MimeTypeH264 }
func (H264) ClockRate() uint32 { return ClockRateH264 }

func (c H264) String() string {
	if c.Config == nil {
		return "avc1"
	}
	return c.Config.CodecString()
}

func (c H264) Key() Key {
	k := Key{Kind: KindVideo, MimeType: MimeTypeH264, ClockRate: ClockRateH264}
	if c.Config != nil {
		k.Width, k.Height = c.Config.Width(), c.Config.Height()
	}
	return k
}

func (H264) sealed() {}

// Equal reports whether a and b describe the same output format.
func Equal(a, b Codec) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Key() == b.Key()
}

// KindOfMimeType returns the media kind for a supported MIME type.
func KindOfMimeType(mime string) (Kind, bool) {
	switch {
	case strings.EqualFold(mime, MimeTypeH264):
		return KindVideo, true
	case strings.EqualFold(mime, MimeTypeOpus):
		return KindAudio, true
	default:
		return 0, false
	}
}
