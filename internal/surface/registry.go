package surface

import (
	"errors"
	"fmt"
	"sync"

	"github.com/breeze-rmm/surfacerec/internal/capture"
)

// ErrDuplicateID is returned when a surface ID is already registered.
var ErrDuplicateID = errors.New("surface id already registered")

// Info describes a registered surface for enumeration.
type Info struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Label  string `json:"label"`
}

type identifiable interface {
	capture.Surface
	setID(id string)
}

// Registry holds the surfaces of one process in registration order. It
// implements capture.Resolver.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]capture.Surface
	next    int
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]capture.Surface)}
}

// Add registers s. Canvas and Grabber surfaces without an ID are given
// "surface-<n>".
func (r *Registry) Add(s capture.Surface) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: nil surface", capture.ErrInvalidSurface)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.ID()
	if id == "" {
		settable, ok := s.(identifiable)
		if !ok {
			return "", fmt.Errorf("%w: surface has no id", capture.ErrInvalidSurface)
		}
		for {
			id = fmt.Sprintf("surface-%d", r.next)
			r.next++
			if _, taken := r.entries[id]; !taken {
				break
			}
		}
		settable.setID(id)
	}
	if _, taken := r.entries[id]; taken {
		return "", fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}

	r.entries[id] = s
	r.order = append(r.order, id)
	log.Debug("surface registered", "surface", id)
	return id, nil
}

// NewCanvas creates a canvas and registers it.
func (r *Registry) NewCanvas(id string, width, height int) (*Canvas, error) {
	c, err := NewCanvas(id, width, height)
	if err != nil {
		return nil, err
	}
	if _, err := r.Add(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Remove unregisters id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the surface registered as id.
func (r *Registry) Get(id string) (capture.Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[id]
	return s, ok
}

// Lookup implements capture.Resolver.
func (r *Registry) Lookup(id string) (capture.Element, bool) {
	s, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// List enumerates the registered surfaces in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	surfaces := make([]capture.Surface, 0, len(r.order))
	for _, id := range r.order {
		surfaces = append(surfaces, r.entries[id])
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(surfaces))
	for _, s := range surfaces {
		w, h := s.Size()
		out = append(out, Info{
			ID:     s.ID(),
			Width:  w,
			Height: h,
			Label:  fmt.Sprintf("%s (%d×%d)", s.ID(), w, h),
		})
	}
	return out
}

// Len returns the number of registered surfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
