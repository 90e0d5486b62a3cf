package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/media"
)

// Track relays one Source's Units to the Sinks that requested a specific
// output codec. It is created by Source.GetTrack and removes itself from
// the Source when its relay loop ends.
type Track struct {
	log    *slog.Logger
	codec  codec.Codec
	source *Source
	out    *broadcast

	mu    sync.Mutex
	sinks map[*Sink]struct{}

	done chan struct{}
}

func newTrack(src *Source, c codec.Codec) *Track {
	return &Track{
		log:    src.log.With("track", c.String()),
		codec:  c,
		source: src,
		out:    newBroadcast(media.BroadcastCapacity),
		sinks:  make(map[*Sink]struct{}),
		done:   make(chan struct{}),
	}
}

// Codec returns the output codec this Track was requested for.
func (t *Track) Codec() codec.Codec { return t.codec }

// Source returns the Source the Track relays.
func (t *Track) Source() *Source { return t.source }

// Done is closed when the relay loop has exited.
func (t *Track) Done() <-chan struct{} { return t.done }

// AddSink attaches a new Sink. It receives only Units relayed after this
// call returns.
func (t *Track) AddSink() *Sink {
	s := &Sink{track: t, rx: t.out.subscribe()}
	t.mu.Lock()
	t.sinks[s] = struct{}{}
	n := len(t.sinks)
	t.mu.Unlock()
	t.log.Debug("sink added", "sinks", n)
	return s
}

// RemoveSink detaches s. Reads on s fail with ErrClosed afterwards.
func (t *Track) RemoveSink(s *Sink) {
	t.mu.Lock()
	_, ok := t.sinks[s]
	delete(t.sinks, s)
	n := len(t.sinks)
	t.mu.Unlock()

	s.rx.close()
	if ok {
		t.log.Debug("sink removed", "sinks", n)
	}
}

// SinkCount returns the number of attached Sinks.
func (t *Track) SinkCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sinks)
}

// run relays Units from in until ctx is done or in is closed.
func (t *Track) run(ctx context.Context, in *receiver) {
	defer close(t.done)
	defer t.out.close()
	defer t.source.removeTrack(t)
	defer in.close()

	t.log.Debug("track started")
	for {
		u, err := in.recv(ctx)
		if err != nil {
			if errors.Is(err, ErrLagged) {
				t.log.Warn("track lagged behind source", "error", err)
				continue
			}
			t.log.Debug("track stopped", "reason", err)
			return
		}
		if t.out.receiverCount() == 0 {
			continue
		}
		t.out.send(u)
	}
}
