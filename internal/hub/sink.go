package hub

import (
	"context"

	"github.com/zsiec/whipfan/internal/media"
)

// Sink is one consumer's subscription to a Track. A Sink must be read from
// a single goroutine.
type Sink struct {
	track *Track
	rx    *receiver
}

// ReadUnit returns the next Unit published after the Sink attached. It
// returns ErrClosed once the Track has stopped and the buffer is drained
// or after the Sink was detached, a *LagError after falling behind, and
// ctx.Err() when ctx is done first.
func (s *Sink) ReadUnit(ctx context.Context) (media.Unit, error) {
	return s.rx.recv(ctx)
}

// Track returns the Track the Sink is attached to.
func (s *Sink) Track() *Track { return s.track }
