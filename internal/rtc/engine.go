package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/zsiec/whipfan/internal/codec"
)

const (
	PayloadTypeH264 = 102
	PayloadTypeOpus = 111

	h264Fmtp = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
	opusFmtp = "minptime=10;useinbandfec=1"
)

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// Options configures ICE for every peer connection an Engine creates.
type Options struct {
	ICELite    bool
	NAT1To1IPs []string
	UDPPortMin uint16
	UDPPortMax uint16
	ICEServers []string
}

// Engine creates peer connections that negotiate only H.264
// (packetization-mode=1) and Opus.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewEngine(opts Options) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    codec.ClockRateH264,
			SDPFmtpLine:  h264Fmtp,
			RTCPFeedback: videoFeedback,
		},
		PayloadType: PayloadTypeH264,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("rtc: register h264: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   codec.ClockRateOpus,
			Channels:    2,
			SDPFmtpLine: opusFmtp,
		},
		PayloadType: PayloadTypeOpus,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("rtc: register opus: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetLite(opts.ICELite)
	if len(opts.NAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(opts.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}
	if opts.UDPPortMin > 0 && opts.UDPPortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("rtc: udp port range: %w", err)
		}
	}

	var config webrtc.Configuration
	if len(opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}
	return &Engine{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		config: config,
	}, nil
}

func (e *Engine) NewPeerConnection() (*webrtc.PeerConnection, error) {
	return e.api.NewPeerConnection(e.config)
}

// Answer applies offer to pc and returns the local answer once ICE
// gathering has completed, so the answer carries every candidate.
func Answer(ctx context.Context, pc *webrtc.PeerConnection, offer string) (string, error) {
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("rtc: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("rtc: create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("rtc: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}

// Closed returns a channel that is closed once pc reaches the failed or
// closed state.
func Closed(pc *webrtc.PeerConnection) <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			once.Do(func() { close(done) })
		}
	})
	return done
}

// Capability returns the local track capability for c.
func Capability(c codec.Codec) (webrtc.RTPCodecCapability, error) {
	switch c := c.(type) {
	case codec.H264:
		return webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    codec.ClockRateH264,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=" + c.Config.ProfileLevelID(),
			RTCPFeedback: videoFeedback,
		}, nil
	case codec.Opus:
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   codec.ClockRateOpus,
			Channels:    c.Channels(),
			SDPFmtpLine: opusFmtp,
		}, nil
	}
	return webrtc.RTPCodecCapability{}, errors.New("rtc: unsupported codec")
}

