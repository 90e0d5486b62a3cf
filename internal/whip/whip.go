// Package whip accepts WebRTC publishers (WHIP) and feeds their tracks into
// ingest sessions.
package whip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/egress"
	"github.com/zsiec/whipfan/internal/hub"
	"github.com/zsiec/whipfan/internal/ingest"
	"github.com/zsiec/whipfan/internal/rtc"
)

// ErrUnsupportedOffer is returned for offers without H.264 video or Opus
// audio.
var ErrUnsupportedOffer = rtc.ErrUnsupportedOffer

var (
	// ErrMissingStream is returned when no stream identifier is given.
	ErrMissingStream = errors.New("whip: missing stream id")
	// ErrInvalidStream is returned for a stream identifier with characters
	// outside [A-Za-z0-9_-] or longer than MaxStreamIDLen.
	ErrInvalidStream = errors.New("whip: invalid stream id")
)

// MaxStreamIDLen bounds the length of a stream identifier.
const MaxStreamIDLen = 128

var streamIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateStreamID checks that id is safe to use in file names and URLs.
func ValidateStreamID(id string) error {
	switch {
	case id == "":
		return ErrMissingStream
	case len(id) > MaxStreamIDLen, !streamIDPattern.MatchString(id):
		return fmt.Errorf("%w: %q", ErrInvalidStream, id)
	}
	return nil
}

const answerTimeout = 10 * time.Second

type Config struct {
	Engine   *rtc.Engine
	Hub      *hub.Hub
	Sessions *egress.Sessions
	Log      *slog.Logger
}

// Server creates one ingest session per WHIP publisher. Publishers are
// tracked in the shared session registry under kind "whip".
type Server struct {
	engine   *rtc.Engine
	hub      *hub.Hub
	sessions *egress.Sessions
	log      *slog.Logger

	mu         sync.RWMutex
	publishers map[string]*ingest.Session
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:     cfg.Engine,
		hub:        cfg.Hub,
		sessions:   cfg.Sessions,
		log:        log.With("component", "whip"),
		publishers: make(map[string]*ingest.Session),
	}
}

// Publish negotiates offer for streamID and returns the session identifier
// and the SDP answer. The session's Stream replaces any Stream already
// published under streamID. ctx bounds the session's lifetime; the
// negotiation itself is bounded separately.
func (s *Server) Publish(ctx context.Context, streamID, offer string) (id, answer string, err error) {
	if err := ValidateStreamID(streamID); err != nil {
		return "", "", err
	}
	if _, err := rtc.InspectOffer(offer); err != nil {
		return "", "", err
	}

	pc, err := s.engine.NewPeerConnection()
	if err != nil {
		return "", "", fmt.Errorf("whip: %w", err)
	}
	closed := rtc.Closed(pc)

	ing := ingest.NewSession(ctx, ingest.Config{
		ID:       streamID,
		Hub:      s.hub,
		Feedback: pc,
		Log:      s.log,
	})
	pc.OnTrack(func(tr *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		s.onTrack(ing, tr, recv)
	})

	actx, cancel := context.WithTimeout(ctx, answerTimeout)
	defer cancel()
	answer, err = rtc.Answer(actx, pc, offer)
	if err != nil {
		ing.Stop()
		_ = pc.Close()
		return "", "", err
	}

	ing.Start()
	s.mu.Lock()
	s.publishers[streamID] = ing
	s.mu.Unlock()

	id = s.sessions.Start(ctx, "whip", streamID, func(ctx context.Context, id string) error {
		defer func() {
			ing.Stop()
			s.mu.Lock()
			if s.publishers[streamID] == ing {
				delete(s.publishers, streamID)
			}
			s.mu.Unlock()
			if err := pc.Close(); err != nil {
				s.log.Debug("peer connection close failed", "session", id, "error", err)
			}
		}()
		select {
		case <-ctx.Done():
		case <-closed:
			s.log.Info("publisher disconnected", "session", id, "stream", streamID)
		}
		return nil
	})
	return id, answer, nil
}

// Stats returns the receive statistics of the current publisher of
// streamID.
func (s *Server) Stats(streamID string) ([]ingest.TrackStats, bool) {
	s.mu.RLock()
	ing, ok := s.publishers[streamID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return ing.Stats(), true
}

// Stop ends a publisher session.
func (s *Server) Stop(id string) error {
	return s.sessions.Stop(id)
}

func (s *Server) onTrack(ing *ingest.Session, tr *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
	params := tr.Codec()
	kind, ok := codec.KindOfMimeType(params.MimeType)
	if !ok {
		s.log.Warn("ignoring track", "mime", params.MimeType, "error", ErrUnsupportedOffer)
		return
	}
	_, err := ing.AddTrack(ingest.RemoteTrack{
		Kind:      kind,
		MimeType:  params.MimeType,
		ClockRate: params.ClockRate,
		SSRC:      uint32(tr.SSRC()),
		Reader:    remoteReader{tr},
	})
	if err != nil {
		s.log.Warn("ignoring track", "mime", params.MimeType, "error", err)
		return
	}
	go readSenderReports(ing, recv)
}

type remoteReader struct {
	tr *webrtc.TrackRemote
}

func (r remoteReader) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.tr.ReadRTP()
	return pkt, err
}

// readSenderReports forwards publisher Sender Reports until the receiver
// is closed.
func readSenderReports(ing *ingest.Session, recv *webrtc.RTPReceiver) {
	for {
		pkts, _, err := recv.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			if sr, ok := p.(*rtcp.SenderReport); ok {
				ing.ObserveSenderReport(sr.SSRC, sr.NTPTime)
			}
		}
	}
}
