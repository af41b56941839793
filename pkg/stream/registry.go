package stream

import (
	"fmt"
	"sync"
)

// Registry is the global stream-id -> RStream map (spec.md section 2,
// 3). It is the exclusive owner of every RStream it holds.
type Registry struct {
	mu      sync.RWMutex
	streams map[uint64]*RStream
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[uint64]*RStream)}
}

// Add registers a new stream. Returns an error if the id is already
// present (ids must be unique across the server, spec.md section 3).
func (r *Registry) Add(s *RStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := s.ID.Uint64()
	if _, exists := r.streams[key]; exists {
		return fmt.Errorf("stream: id %s already registered", s.ID)
	}
	r.streams[key] = s
	return nil
}

// Remove deregisters and closes a stream. Removing an id twice, or an
// id never added, is a harmless no-op so callers racing disconnect paths
// don't need to coordinate.
func (r *Registry) Remove(id ID) error {
	r.mu.Lock()
	s, ok := r.streams[id.Uint64()]
	if ok {
		delete(r.streams, id.Uint64())
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

func (r *Registry) Get(id ID) (*RStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id.Uint64()]
	return s, ok
}

// All returns a snapshot slice of every registered stream.
func (r *Registry) All() []*RStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RStream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
