package hub

import (
	"sync"
	"time"
)

// Stream is one ingest session: an ordered set of Sources.
type Stream struct {
	id        string
	startedAt time.Time

	mu      sync.RWMutex
	sources []*Source
}

// NewStream returns an empty Stream.
func NewStream(id string) *Stream {
	return &Stream{id: id, startedAt: time.Now()}
}

// ID returns the identifier the Stream was published under.
func (s *Stream) ID() string { return s.id }

// StartedAt returns when the Stream was created.
func (s *Stream) StartedAt() time.Time { return s.startedAt }

// AddSource appends src.
func (s *Stream) AddSource(src *Source) {
	s.mu.Lock()
	s.sources = append(s.sources, src)
	s.mu.Unlock()
}

// Sources returns a snapshot of the Stream's Sources in insertion order.
func (s *Stream) Sources() []*Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Source, len(s.sources))
	copy(out, s.sources)
	return out
}

// RemoveSource removes src by identity and reports whether it was present.
func (s *Stream) RemoveSource(src *Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.sources {
		if cur == src {
			s.sources = append(s.sources[:i:i], s.sources[i+1:]...)
			return true
		}
	}
	return false
}
