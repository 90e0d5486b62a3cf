package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/depacketize"
	"github.com/zsiec/whipfan/internal/hub"
	"github.com/zsiec/whipfan/internal/media"
)

// ErrSessionClosed is returned by AddTrack after Stop.
var ErrSessionClosed = errors.New("ingest: session closed")

// PacketReader yields inbound RTP packets. ReadRTP blocks until a packet
// arrives or the transport is closed.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// RemoteTrack describes one inbound media track.
type RemoteTrack struct {
	Kind      codec.Kind
	MimeType  string
	ClockRate uint32
	SSRC      uint32
	Reader    PacketReader
}

// Config configures a Session.
type Config struct {
	// ID is the stream identifier the session registers in the Hub.
	ID  string
	Hub *hub.Hub
	// Feedback receives periodic RTCP. Nil disables feedback.
	Feedback         RTCPWriter
	FeedbackInterval time.Duration
	REMBBitrate      float32
	Log              *slog.Logger
}

type track struct {
	kind      codec.Kind
	ssrc      uint32
	clockRate uint32
	source    *hub.Source
	depack    depacketize.Depacketizer
	stats     *ReceiverStats
	timeline  timeline
}

// Session is one publisher connection. It owns a hub Stream from Start
// until Stop.
type Session struct {
	id     string
	log    *slog.Logger
	hub    *hub.Hub
	stream *hub.Stream

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	feedback         RTCPWriter
	feedbackInterval time.Duration
	rembBitrate      float32
	localSSRC        uint32

	mu     sync.Mutex
	tracks []*track

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewSession creates a Session bound to ctx. It is not visible in the Hub
// until Start.
func NewSession(ctx context.Context, cfg Config) *Session {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.FeedbackInterval <= 0 {
		cfg.FeedbackInterval = DefaultFeedbackInterval
	}
	if cfg.REMBBitrate <= 0 {
		cfg.REMBBitrate = DefaultREMBBitrate
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:               cfg.ID,
		log:              log.With("component", "ingest", "stream", cfg.ID),
		hub:              cfg.Hub,
		stream:           hub.NewStream(cfg.ID),
		ctx:              ctx,
		cancel:           cancel,
		feedback:         cfg.Feedback,
		feedbackInterval: cfg.FeedbackInterval,
		rembBitrate:      cfg.REMBBitrate,
		localSSRC:        generateSSRC(),
		done:             make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Stream() *hub.Stream   { return s.stream }
func (s *Session) Done() <-chan struct{} { return s.done }

// Start registers the Stream in the Hub, replacing any earlier Stream with
// the same identifier, and starts RTCP feedback.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.hub.InsertStream(s.id, s.stream)
		if s.feedback != nil {
			s.wg.Add(1)
			go s.feedbackLoop(s.ctx)
		}
		s.log.Info("ingest session started")
	})
}

// AddTrack creates a Source for rt, adds it to the Stream and starts its
// read loop.
func (s *Session) AddTrack(rt RemoteTrack) (*hub.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}

	srcID := fmt.Sprintf("%s-%d", rt.Kind, len(s.tracks))
	src := hub.NewSource(s.ctx, srcID, rt.Kind, rt.MimeType, s.log)
	depack, err := depacketize.New(rt.MimeType, src.SetCodec, s.log.With("source", srcID))
	if err != nil {
		src.Close()
		return nil, err
	}

	tr := &track{
		kind:      rt.Kind,
		ssrc:      rt.SSRC,
		clockRate: rt.ClockRate,
		source:    src,
		depack:    depack,
		stats:     NewReceiverStats(rt.SSRC, rt.ClockRate),
	}
	s.tracks = append(s.tracks, tr)
	s.stream.AddSource(src)

	s.wg.Add(1)
	go s.readLoop(tr, rt.Reader)

	s.log.Info("track added", "source", srcID, "mime", rt.MimeType, "ssrc", rt.SSRC, "clockRate", rt.ClockRate)
	return src, nil
}

// ObserveSenderReport feeds a publisher Sender Report into the statistics
// of the matching track.
func (s *Session) ObserveSenderReport(ssrc uint32, ntpTime uint64) {
	now := time.Now()
	for _, tr := range s.snapshotTracks() {
		if tr.ssrc == ssrc {
			tr.stats.ObserveSenderReport(ntpTime, now)
		}
	}
}

// Stats returns per-track receive statistics.
func (s *Session) Stats() []TrackStats {
	tracks := s.snapshotTracks()
	out := make([]TrackStats, 0, len(tracks))
	for _, tr := range tracks {
		st := tr.stats.Snapshot()
		st.Kind = tr.kind.String()
		st.MimeType = tr.source.MimeType()
		out = append(out, st)
	}
	return out
}

func (s *Session) snapshotTracks() []*track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Stop cancels every read loop and Track, waits for the session's
// goroutines and removes the Stream from the Hub if it is still the
// registered one.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.cancel()
		s.mu.Unlock()

		s.wg.Wait()
		s.hub.RemoveStream(s.id, s.stream)
		close(s.done)
		s.log.Info("ingest session stopped")
	})
}

type readResult struct {
	pkt *rtp.Packet
	err error
}

// readLoop races packet arrival against cancellation. The pump goroutine
// exits when the reader fails, which happens once the transport closes.
func (s *Session) readLoop(tr *track, r PacketReader) {
	defer s.wg.Done()
	defer func() {
		s.stream.RemoveSource(tr.source)
		tr.source.Close()
	}()

	results := make(chan readResult, 1)
	go func() {
		for {
			pkt, err := r.ReadRTP()
			select {
			case results <- readResult{pkt, err}:
			case <-s.ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case res := <-results:
			if res.err != nil {
				s.log.Info("track ended", "source", tr.source.ID(), "reason", res.err)
				return
			}
			s.handlePacket(tr, res.pkt, time.Now())
		}
	}
}

func (s *Session) handlePacket(tr *track, pkt *rtp.Packet, arrival time.Time) {
	tr.stats.Update(pkt, arrival)
	if len(pkt.Payload) == 0 {
		return
	}

	pts, duration := tr.timeline.advance(pkt.Timestamp)
	payloads, keyframe, ok := tr.depack.Parse(pkt.Payload)
	if !ok {
		return
	}
	flag := 0
	if keyframe {
		flag = 1
	}
	for i, p := range payloads {
		tr.source.WriteUnit(media.Unit{
			Payload:   p,
			PTS:       pts,
			DTS:       pts,
			Duration:  duration,
			Timebase:  tr.clockRate,
			Marker:    i == len(payloads)-1,
			FrameInfo: media.FrameInfo{Flag: flag},
		})
	}
}
