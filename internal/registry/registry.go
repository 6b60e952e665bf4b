// Package registry implements the Tunnel Registry: a per-broker-instance
// map of sessionId to active tunnel handle, used for explicit and bulk
// teardown.
//
// Grounded on the teacher's TunnelRegistry in pkg/registry/tunnel.go,
// adapted from a []*Session slice into the sessionId-keyed map the spec's
// data model requires, and from StoreSession/GetSession into
// Register/CloseOne/CloseAll/List.
package registry

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mateusfdl/infisical/internal/model"
	"github.com/mateusfdl/infisical/internal/tunnel"
)

// Registry is the Tunnel Registry.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*tunnel.Handle
	log     zerolog.Logger
}

// New constructs an empty Registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		handles: make(map[string]*tunnel.Handle),
		log:     log.With().Str("component", "tunnel-registry").Logger(),
	}
}

// Register inserts handle for its sessionId. If a prior handle already
// exists for that session, it is torn down first: at most one active
// handle per sessionId at a time.
func (r *Registry) Register(h *tunnel.Handle) {
	r.mu.Lock()
	prior := r.handles[h.SessionID]
	r.handles[h.SessionID] = h
	r.mu.Unlock()

	if prior != nil {
		tunnel.Destroy(prior)
		r.log.Debug().Str("sessionId", h.SessionID).Msg("superseded prior tunnel handle")
	}
}

// CloseOne tears down and removes the handle for sessionID, if present.
// Idempotent: a second call for the same session is a no-op.
func (r *Registry) CloseOne(sessionID string) {
	r.mu.Lock()
	h, ok := r.handles[sessionID]
	if ok {
		delete(r.handles, sessionID)
	}
	r.mu.Unlock()

	if ok {
		tunnel.Destroy(h)
		r.log.Debug().Str("sessionId", sessionID).Msg("tunnel closed")
	}
}

// CloseAll tears down every registered handle concurrently, waiting for
// all of them to settle. Repeat calls are safe no-ops.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]*tunnel.Handle, 0, len(r.handles))
	for id, h := range r.handles {
		handles = append(handles, h)
		delete(r.handles, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(handles))
	for _, h := range handles {
		go func(h *tunnel.Handle) {
			defer wg.Done()
			tunnel.Destroy(h)
		}(h)
	}
	wg.Wait()

	if len(handles) > 0 {
		r.log.Debug().Int("count", len(handles)).Msg("closed all tunnels")
	}
}

// List returns a snapshot of every registered handle's id and active flag.
func (r *Registry) List() []model.TunnelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.TunnelInfo, 0, len(r.handles))
	for id, h := range r.handles {
		out = append(out, model.TunnelInfo{SessionID: id, Active: h.Active})
	}
	return out
}

// Count returns the number of currently registered handles.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
