package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// ErrUnsupportedOffer is returned for offers without an audio or video
// section that carries H.264 or Opus.
var ErrUnsupportedOffer = errors.New("rtc: offer has no H264 or Opus media")

// OfferInfo summarizes the usable media sections of an offer.
type OfferInfo struct {
	Video bool
	Audio bool
}

// InspectOffer parses an SDP offer and reports which supported media it
// carries.
func InspectOffer(offer string) (OfferInfo, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return OfferInfo{}, fmt.Errorf("%w: %v", ErrUnsupportedOffer, err)
	}

	var info OfferInfo
	for _, md := range sd.MediaDescriptions {
		switch strings.ToLower(md.MediaName.Media) {
		case "video":
			if hasEncoding(md, "h264/90000") {
				info.Video = true
			}
		case "audio":
			if hasEncoding(md, "opus/48000") {
				info.Audio = true
			}
		}
	}
	if !info.Video && !info.Audio {
		return info, ErrUnsupportedOffer
	}
	return info, nil
}

func hasEncoding(md *sdp.MediaDescription, prefix string) bool {
	for _, a := range md.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		_, enc, ok := strings.Cut(a.Value, " ")
		if ok && strings.HasPrefix(strings.ToLower(enc), prefix) {
			return true
		}
	}
	return false
}
