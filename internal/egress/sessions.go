package egress

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunFunc is the body of a registered session. id is the identifier
// Start returns. It must return once ctx is done.
type RunFunc func(ctx context.Context, id string) error

// SessionInfo describes a running registered session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Stream    string    `json:"stream"`
	StartedAt time.Time `json:"startedAt"`
}

type entry struct {
	info   SessionInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// Sessions is a registry of running sessions keyed by a generated
// identifier. A session leaves the registry when its RunFunc returns.
type Sessions struct {
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewSessions returns an empty registry. If log is nil, slog.Default() is
// used.
func NewSessions(log *slog.Logger) *Sessions {
	if log == nil {
		log = slog.Default()
	}
	return &Sessions{
		log:     log.With("component", "sessions"),
		entries: make(map[string]*entry),
	}
}

// Start runs fn in a new goroutine under a context derived from ctx and
// returns the session identifier.
func (r *Sessions) Start(ctx context.Context, kind, stream string, fn RunFunc) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	e := &entry{
		info:   SessionInfo{ID: id, Kind: kind, Stream: stream, StartedAt: time.Now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()

	log := r.log.With("session", id, "kind", kind, "stream", stream)
	log.Info("session started")

	go func() {
		defer close(e.done)
		defer cancel()
		if err := fn(ctx, id); err != nil {
			log.Warn("session failed", "error", err)
		} else {
			log.Info("session ended")
		}
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
	}()
	return id
}

// Stop cancels the session and waits for it to return.
func (r *Sessions) Stop(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.cancel()
	<-e.done
	return nil
}

// StopAll cancels every session and waits for all of them.
func (r *Sessions) StopAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		<-e.done
	}
}

// List returns the running sessions ordered by start time.
func (r *Sessions) List() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len returns the number of running sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
