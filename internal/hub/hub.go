package hub

import (
	"log/slog"
	"sort"
	"sync"
)

// Hub maps stream identifiers to live Streams. It is constructed once at
// startup and shared by ingest and egress.
type Hub struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// New creates an empty Hub. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log.With("component", "hub"),
		streams: make(map[string]*Stream),
	}
}

// InsertStream registers s under id, replacing and returning any Stream
// already registered there.
func (h *Hub) InsertStream(id string, s *Stream) *Stream {
	h.mu.Lock()
	prev := h.streams[id]
	h.streams[id] = s
	h.mu.Unlock()

	if prev != nil {
		h.log.Warn("stream replaced", "stream", id)
	} else {
		h.log.Info("stream inserted", "stream", id)
	}
	return prev
}

// GetStream returns the Stream registered under id.
func (h *Hub) GetStream(id string) (*Stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.streams[id]
	return s, ok
}

// RemoveStream removes id only if it still maps to s, so a stale teardown
// cannot remove a newer Stream that reused the identifier.
func (h *Hub) RemoveStream(id string, s *Stream) bool {
	h.mu.Lock()
	cur, ok := h.streams[id]
	removed := ok && cur == s
	if removed {
		delete(h.streams, id)
	}
	h.mu.Unlock()

	if removed {
		h.log.Info("stream removed", "stream", id)
	}
	return removed
}

// List returns all registered Streams ordered by identifier.
func (h *Hub) List() []*Stream {
	h.mu.RLock()
	streams := make([]*Stream, 0, len(h.streams))
	for _, s := range h.streams {
		streams = append(streams, s)
	}
	h.mu.RUnlock()

	sort.Slice(streams, func(i, j int) bool { return streams[i].id < streams[j].id })
	return streams
}
