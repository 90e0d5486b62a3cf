// Package whep serves live streams to WebRTC viewers (WHEP).
package whep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/egress"
	"github.com/zsiec/whipfan/internal/hub"
	"github.com/zsiec/whipfan/internal/media"
	"github.com/zsiec/whipfan/internal/rtc"
)

const answerTimeout = 10 * time.Second

type Config struct {
	Engine       *rtc.Engine
	Hub          *hub.Hub
	Sessions     *egress.Sessions
	CodecTimeout time.Duration
	Log          *slog.Logger
}

// Server creates one egress session per WHEP viewer.
type Server struct {
	engine       *rtc.Engine
	hub          *hub.Hub
	sessions     *egress.Sessions
	codecTimeout time.Duration
	log          *slog.Logger
}

func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:       cfg.Engine,
		hub:          cfg.Hub,
		sessions:     cfg.Sessions,
		codecTimeout: cfg.CodecTimeout,
		log:          log.With("component", "whep"),
	}
}

// Play negotiates offer for a viewer of streamID and returns the session
// identifier and the SDP answer. The answer offers one local track per
// Source whose codec is known.
func (s *Server) Play(ctx context.Context, streamID, offer string) (id, answer string, err error) {
	st, ok := s.hub.GetStream(streamID)
	if !ok {
		return "", "", egress.ErrStreamNotFound
	}
	if _, err := rtc.InspectOffer(offer); err != nil {
		return "", "", err
	}

	out := &writer{}
	es := egress.NewSession(egress.Config{
		Stream:       st,
		Handler:      out,
		CodecTimeout: s.codecTimeout,
		Log:          s.log,
	})
	actx, cancel := context.WithTimeout(ctx, answerTimeout+s.codecTimeout)
	defer cancel()
	infos, sources, err := es.Resolve(actx)
	if err != nil {
		return "", "", err
	}

	pc, err := s.engine.NewPeerConnection()
	if err != nil {
		return "", "", fmt.Errorf("whep: %w", err)
	}
	closed := rtc.Closed(pc)
	if err := out.addTracks(pc, streamID, infos); err != nil {
		_ = pc.Close()
		return "", "", err
	}
	answer, err = rtc.Answer(actx, pc, offer)
	if err != nil {
		_ = pc.Close()
		return "", "", err
	}

	id = s.sessions.Start(ctx, "whep", streamID, func(ctx context.Context, id string) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-closed:
				s.log.Info("viewer disconnected", "session", id, "stream", streamID)
				cancel()
			case <-ctx.Done():
			}
		}()
		defer pc.Close()
		return es.RunResolved(ctx, infos, sources)
	})
	return id, answer, nil
}

// Stop ends a viewer session.
func (s *Server) Stop(id string) error {
	return s.sessions.Stop(id)
}

type localTrack struct {
	track      *webrtc.TrackLocalStaticRTP
	packetizer *egress.Packetizer
}

// writer is the egress.Handler of a viewer. It repacketizes Units onto one
// local track per Source.
type writer struct {
	tracks []localTrack
}

func (w *writer) addTracks(pc *webrtc.PeerConnection, streamID string, infos []egress.SourceInfo) error {
	for _, info := range infos {
		capability, err := rtc.Capability(info.Codec)
		if err != nil {
			return err
		}
		track, err := webrtc.NewTrackLocalStaticRTP(capability, info.Kind.String(), streamID)
		if err != nil {
			return fmt.Errorf("whep: local track: %w", err)
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("whep: add track: %w", err)
		}
		go drainRTCP(sender)

		// The bound payload type and SSRC are stamped by the track.
		p, err := egress.NewPacketizer(info.Codec, 0, 0)
		if err != nil {
			return err
		}
		w.tracks = append(w.tracks, localTrack{track: track, packetizer: p})
	}
	return nil
}

func (w *writer) Init([]egress.SourceInfo) error { return nil }

func (w *writer) Unit(index int, c codec.Codec, u media.Unit) error {
	t := w.tracks[index]
	if u.IsKeyframe() {
		t.packetizer.Refresh(c)
	}
	for _, pkt := range t.packetizer.Packetize(u) {
		if err := t.track.WriteRTP(pkt); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) Close() error { return nil }

// drainRTCP discards viewer RTCP until the sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
