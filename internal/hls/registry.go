package hls

import (
	"context"
	"sync"

	"github.com/zsiec/whipfan/internal/egress"
	"github.com/zsiec/whipfan/internal/hub"
)

// Registry maps running HLS session identifiers to their Packagers.
type Registry struct {
	mu        sync.RWMutex
	packagers map[string]*Packager
}

func NewRegistry() *Registry {
	return &Registry{packagers: make(map[string]*Packager)}
}

func (r *Registry) Get(id string) (*Packager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packagers[id]
	return p, ok
}

func (r *Registry) put(id string, p *Packager) {
	r.mu.Lock()
	r.packagers[id] = p
	r.mu.Unlock()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.packagers, id)
	r.mu.Unlock()
}

// Start packages st under sessions and returns the session identifier.
// The session's files are served from reg until the session ends.
func Start(ctx context.Context, sessions *egress.Sessions, reg *Registry, st *hub.Stream, opts Options) string {
	opts = opts.withDefaults()
	p := NewPackager(opts)
	registered := make(chan struct{})
	id := sessions.Start(ctx, "hls", st.ID(), func(ctx context.Context, id string) error {
		reg.put(id, p)
		close(registered)
		defer reg.remove(id)
		return egress.NewSession(egress.Config{
			Stream:       st,
			Handler:      p,
			CodecTimeout: opts.CodecTimeout,
			Log:          opts.Log,
		}).Run(ctx)
	})
	<-registered
	return id
}
