package egress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/hub"
	"github.com/zsiec/whipfan/internal/media"
)

var (
	ErrStreamNotFound  = errors.New("egress: stream not found")
	ErrSessionNotFound = errors.New("egress: session not found")
	ErrNoSources       = errors.New("egress: stream has no source with a codec")
)

// DefaultCodecTimeout bounds how long a Session waits for each Source to
// detect its codec.
const DefaultCodecTimeout = 10 * time.Second

// SourceInfo describes one Source a Session consumes. Index is the value
// passed to Handler.Unit for Units of that Source.
type SourceInfo struct {
	Index int
	ID    string
	Kind  codec.Kind
	Codec codec.Codec
}

// Handler receives a Session's output. Calls are serialized. An error from
// Init or Unit ends the Session; Close is called exactly once after a
// successful Init. The codec passed to Unit is the one resolved at Init
// except on keyframes, which carry the Source's current codec.
type Handler interface {
	Init(sources []SourceInfo) error
	Unit(index int, c codec.Codec, u media.Unit) error
	Close() error
}

type Config struct {
	Stream       *hub.Stream
	Handler      Handler
	CodecTimeout time.Duration
	Log          *slog.Logger
}

// Session feeds one Handler from every Source of a Stream.
type Session struct {
	stream       *hub.Stream
	handler      Handler
	codecTimeout time.Duration
	log          *slog.Logger

	mu    sync.Mutex
	gate  *KeyframeGate
	units uint64
}

// NewSession returns a Session for cfg.Stream. A zero CodecTimeout means
// DefaultCodecTimeout.
func NewSession(cfg Config) *Session {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.CodecTimeout <= 0 {
		cfg.CodecTimeout = DefaultCodecTimeout
	}
	return &Session{
		stream:       cfg.Stream,
		handler:      cfg.Handler,
		codecTimeout: cfg.CodecTimeout,
		log:          log.With("component", "egress", "stream", cfg.Stream.ID()),
	}
}

// Resolve waits for the codec of every Source. Sources whose codec is not
// detected within the timeout are skipped.
func (s *Session) Resolve(ctx context.Context) ([]SourceInfo, []*hub.Source, error) {
	var (
		infos   []SourceInfo
		sources []*hub.Source
	)
	for _, src := range s.stream.Sources() {
		wctx, cancel := context.WithTimeout(ctx, s.codecTimeout)
		c, err := src.WaitCodec(wctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			s.log.Warn("skipping source without codec", "source", src.ID(), "error", err)
			continue
		}
		infos = append(infos, SourceInfo{Index: len(infos), ID: src.ID(), Kind: src.Kind(), Codec: c})
		sources = append(sources, src)
	}
	if len(infos) == 0 {
		return nil, nil, ErrNoSources
	}
	return infos, sources, nil
}

// Run consumes the Stream until ctx is done or every Source has closed.
// It returns nil in both cases.
func (s *Session) Run(ctx context.Context) error {
	infos, sources, err := s.Resolve(ctx)
	if err != nil {
		return err
	}
	return s.RunResolved(ctx, infos, sources)
}

// RunResolved is Run for sources already returned by Resolve.
func (s *Session) RunResolved(ctx context.Context, infos []SourceInfo, sources []*hub.Source) error {
	hasVideo := false
	for _, in := range infos {
		if in.Kind == codec.KindVideo {
			hasVideo = true
		}
	}
	s.gate = NewKeyframeGate(hasVideo)

	if err := s.handler.Init(infos); err != nil {
		return fmt.Errorf("egress: init handler: %w", err)
	}
	defer func() {
		if err := s.handler.Close(); err != nil {
			s.log.Warn("handler close failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		info := infos[i]
		g.Go(func() error { return s.sinkLoop(gctx, src, info) })
	}
	err := g.Wait()
	s.log.Info("egress session ended", "units", s.Units())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Session) sinkLoop(ctx context.Context, src *hub.Source, info SourceInfo) error {
	track, err := src.GetTrack(info.Codec)
	if err != nil {
		return fmt.Errorf("egress: source %s: %w", src.ID(), err)
	}
	sink := track.AddSink()
	defer track.RemoveSink(sink)

	for {
		u, err := sink.ReadUnit(ctx)
		switch {
		case err == nil:
		case errors.Is(err, hub.ErrLagged):
			s.log.Warn("sink lagged", "source", src.ID(), "error", err)
			continue
		case errors.Is(err, hub.ErrClosed):
			s.log.Debug("source closed", "source", src.ID())
			return nil
		default:
			return err
		}
		c := info.Codec
		if u.IsKeyframe() {
			// Publishers may resend changed parameter sets at any IDR.
			if cur := src.Codec(); cur != nil {
				c = cur
			}
		}
		if err := s.deliver(info, c, u); err != nil {
			return err
		}
	}
}

// deliver passes u to the Handler with c, the Source's codec as of the
// latest keyframe.
func (s *Session) deliver(info SourceInfo, c codec.Codec, u media.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.gate.Allow(info.Kind, u) {
		return nil
	}
	s.units++
	return s.handler.Unit(info.Index, c, u)
}

// Units returns how many Units have been delivered to the Handler.
func (s *Session) Units() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units
}
