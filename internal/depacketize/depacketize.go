// Package depacketize turns RTP payloads into access units.
//
// One Depacketizer serves one Source. Payloads must be fed in arrival
// order. The H.264 depacketizer reassembles FU-A fragments, expands STAP-A
// aggregates, strips parameter sets and non-VCL filler from the output, and
// reports a new codec whenever the SPS/PPS pair changes.
package depacketize

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zsiec/whipfan/internal/codec"
)

// ErrUnsupportedMimeType is returned by New for codecs without a depacketizer.
var ErrUnsupportedMimeType = errors.New("depacketize: unsupported mime type")

// CodecFunc is invoked synchronously from Parse when a codec is detected.
type CodecFunc func(codec.Codec)

// Depacketizer consumes RTP payloads one at a time.
type Depacketizer interface {
	// Parse returns the access units completed by payload and whether this
	// call produced or confirmed a keyframe boundary. ok is false when
	// nothing may be emitted yet. Returned slices may alias payload.
	Parse(payload []byte) (units [][]byte, keyframe bool, ok bool)
}

// New returns the depacketizer for mimeType.
func New(mimeType string, onCodec CodecFunc, log *slog.Logger) (Depacketizer, error) {
	switch {
	case strings.EqualFold(mimeType, codec.MimeTypeH264):
		return NewH264(onCodec, log), nil
	case strings.EqualFold(mimeType, codec.MimeTypeOpus):
		return NewOpus(onCodec), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMimeType, mimeType)
	}
}
