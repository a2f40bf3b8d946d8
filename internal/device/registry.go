package device

import (
	"sort"
	"sync"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

// Registry maps device ids to attached devices.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Lifecycle
}

func NewRegistry() *Registry {
	return &Registry{devices: map[string]Lifecycle{}}
}

// Add registers dev. It reports false when the id is taken.
func (r *Registry) Add(dev Lifecycle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[dev.ID()]; exists {
		return false
	}
	r.devices[dev.ID()] = dev
	return true
}

func (r *Registry) Remove(id string) (Lifecycle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
	}
	return dev, ok
}

func (r *Registry) Get(id string) (Lifecycle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[id]
	return dev, ok
}

// Lookup finds a device by id and variant tag.
func (r *Registry) Lookup(id string, variant model.Variant) (Lifecycle, bool) {
	dev, ok := r.Get(id)
	if !ok || dev.Variant() != model.NormalizeVariant(variant) {
		return nil, false
	}
	return dev, true
}

// List returns attached devices sorted by id.
func (r *Registry) List() []Lifecycle {
	r.mu.RLock()
	out := make([]Lifecycle, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
