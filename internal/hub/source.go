package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/media"
)

// ErrNoCodec is returned by GetTrack before the Source's codec is known.
var ErrNoCodec = errors.New("hub: source has no codec")

// Source is one elementary stream of an ingest session.
type Source struct {
	log      *slog.Logger
	id       string
	kind     codec.Kind
	mimeType string

	ctx    context.Context
	cancel context.CancelFunc
	in     *broadcast

	codecMu   sync.RWMutex
	codec     codec.Codec
	ready     chan struct{}
	readyOnce sync.Once

	tracksMu sync.Mutex
	tracks   map[codec.Key]*Track
}

// NewSource returns a Source whose lifetime is bounded by ctx. If log is
// nil, slog.Default() is used.
func NewSource(ctx context.Context, id string, kind codec.Kind, mimeType string, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Source{
		log:      log.With("component", "source", "source", id, "kind", kind.String()),
		id:       id,
		kind:     kind,
		mimeType: mimeType,
		ctx:      ctx,
		cancel:   cancel,
		in:       newBroadcast(media.BroadcastCapacity),
		ready:    make(chan struct{}),
		tracks:   make(map[codec.Key]*Track),
	}
}

// ID returns the Source identifier, unique within its Stream.
func (s *Source) ID() string { return s.id }

// Kind returns whether the Source carries audio or video.
func (s *Source) Kind() codec.Kind { return s.kind }

// MimeType returns the negotiated RTP MIME type, e.g. "video/H264".
func (s *Source) MimeType() string { return s.mimeType }

// SetCodec records a detected codec. The first call releases WaitCodec.
// A codec with the same output format as the current one replaces it, so
// refreshed parameter sets reach consumers at their next keyframe.
func (s *Source) SetCodec(c codec.Codec) {
	s.codecMu.Lock()
	prev := s.codec
	s.codec = c
	s.codecMu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	if codec.Equal(prev, c) {
		s.log.Debug("parameter sets refreshed", "codec", c.String())
		return
	}
	s.log.Info("codec set", "codec", c.String())
}

// Codec returns the detected codec, or nil before detection.
func (s *Source) Codec() codec.Codec {
	s.codecMu.RLock()
	defer s.codecMu.RUnlock()
	return s.codec
}

// WaitCodec blocks until a codec has been detected, the Source is closed,
// or ctx is done.
func (s *Source) WaitCodec(ctx context.Context) (codec.Codec, error) {
	select {
	case <-s.ready:
		return s.Codec(), nil
	case <-s.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteUnit publishes u to every Track. It never blocks and returns the
// number of Tracks subscribed at the time of the write.
func (s *Source) WriteUnit(u media.Unit) int {
	return s.in.send(u)
}

// GetTrack returns the Track serving output codec c, creating and starting
// it on first request. Concurrent first requests observe the same Track.
func (s *Source) GetTrack(c codec.Codec) (*Track, error) {
	if s.Codec() == nil {
		return nil, ErrNoCodec
	}
	if s.ctx.Err() != nil || s.in.isClosed() {
		return nil, ErrClosed
	}

	key := c.Key()
	s.tracksMu.Lock()
	defer s.tracksMu.Unlock()

	if t, ok := s.tracks[key]; ok {
		return t, nil
	}
	t := newTrack(s, c)
	// Subscribing under the map lock orders the Track's first Unit after
	// its registration.
	in := s.in.subscribe()
	s.tracks[key] = t
	go t.run(s.ctx, in)
	return t, nil
}

// Tracks returns a snapshot of the active Tracks.
func (s *Source) Tracks() []*Track {
	s.tracksMu.Lock()
	defer s.tracksMu.Unlock()
	tracks := make([]*Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	return tracks
}

// removeTrack deletes t only if it is still the registered Track for its
// codec.
func (s *Source) removeTrack(t *Track) {
	key := t.codec.Key()
	s.tracksMu.Lock()
	if cur, ok := s.tracks[key]; ok && cur == t {
		delete(s.tracks, key)
	}
	s.tracksMu.Unlock()
}

// Close cancels the Source and closes its broadcast. Tracks drain and
// remove themselves.
func (s *Source) Close() {
	s.cancel()
	s.in.close()
}

// Done is closed when the Source is cancelled.
func (s *Source) Done() <-chan struct{} { return s.ctx.Done() }
