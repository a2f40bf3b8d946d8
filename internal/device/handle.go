package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

const offlineReason = "Lock is offline"

// Handle is the hub-side view of one device: its capability set, the last
// written capability values and its availability. Once gone, every write is
// a no-op.
type Handle struct {
	id        string
	store     Store
	publisher StatePublisher

	mu         sync.RWMutex
	caps       model.CapabilitySet
	values     map[string]any
	available  bool
	reason     string
	availKnown bool
	gone       atomic.Bool
}

// LoadHandle builds a handle from the persisted capability state.
func LoadHandle(ctx context.Context, id string, store Store, publisher StatePublisher) (*Handle, error) {
	values, err := store.LoadCapabilities(ctx, id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Handle{
		id:        id,
		store:     store,
		publisher: publisher,
		caps:      model.NewCapabilitySet(names...),
		values:    values,
		available: true,
	}, nil
}

func (h *Handle) ID() string {
	return h.id
}

// Gone reports whether the device was detached.
func (h *Handle) Gone() bool {
	return h.gone.Load()
}

// MarkGone turns all further writes into no-ops.
func (h *Handle) MarkGone() {
	h.gone.Store(true)
}

func (h *Handle) Capabilities() model.CapabilitySet {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.caps
}

func (h *Handle) Has(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.caps.Has(name)
}

// Value returns the last written value of a capability. Capabilities that
// exist but were never written report ok=false.
func (h *Handle) Value(name string) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.caps.Has(name) {
		return nil, false
	}
	value := h.values[name]
	return value, value != nil
}

// BoolValue reads a boolean capability.
func (h *Handle) BoolValue(name string) (bool, bool) {
	value, ok := h.Value(name)
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// StringValue reads a string capability.
func (h *Handle) StringValue(name string) (string, bool) {
	value, ok := h.Value(name)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// Write sets the value of a present capability.
func (h *Handle) Write(ctx context.Context, name string, value any) error {
	if h.Gone() || !h.Has(name) {
		return nil
	}
	if err := h.store.SetCapabilityValue(ctx, h.id, name, value); err != nil {
		return &CapabilityMutationError{DeviceID: h.id, Capability: name, Op: "write", Err: err}
	}
	h.mu.Lock()
	h.values[name] = value
	h.mu.Unlock()
	h.publisher.PublishCapability(ctx, h.id, name, value)
	return nil
}

// Add registers a capability when absent.
func (h *Handle) Add(ctx context.Context, name string) error {
	if h.Gone() || h.Has(name) {
		return nil
	}
	if err := h.store.AddCapability(ctx, h.id, name); err != nil {
		return &CapabilityMutationError{DeviceID: h.id, Capability: name, Op: "add", Err: err}
	}
	h.mu.Lock()
	h.caps = h.caps.With(name)
	h.values[name] = nil
	h.mu.Unlock()
	return nil
}

// Remove drops a capability when present.
func (h *Handle) Remove(ctx context.Context, name string) error {
	if h.Gone() || !h.Has(name) {
		return nil
	}
	if err := h.store.RemoveCapability(ctx, h.id, name); err != nil {
		return &CapabilityMutationError{DeviceID: h.id, Capability: name, Op: "remove", Err: err}
	}
	h.mu.Lock()
	h.caps = h.caps.Without(name)
	delete(h.values, name)
	h.mu.Unlock()
	return nil
}

// Swap replaces retire with add, carrying value, as one store transaction.
func (h *Handle) Swap(ctx context.Context, retire string, add string, value any) error {
	if h.Gone() {
		return nil
	}
	if err := h.store.SwapCapability(ctx, h.id, retire, add, value); err != nil {
		return &CapabilityMutationError{DeviceID: h.id, Capability: add, Op: "swap", Err: err}
	}
	h.mu.Lock()
	h.caps = h.caps.Without(retire).With(add)
	delete(h.values, retire)
	h.values[add] = value
	h.mu.Unlock()
	if value != nil {
		h.publisher.PublishCapability(ctx, h.id, add, value)
	}
	return nil
}

// SetAvailability records availability and publishes it when it changes.
func (h *Handle) SetAvailability(ctx context.Context, available bool, reason string) {
	if h.Gone() {
		return
	}
	if available {
		reason = ""
	}
	h.mu.Lock()
	changed := !h.availKnown || h.available != available || h.reason != reason
	h.available = available
	h.reason = reason
	h.availKnown = true
	h.mu.Unlock()
	if changed {
		h.publisher.PublishAvailability(ctx, h.id, available, reason)
	}
}

// Availability returns the last recorded availability.
func (h *Handle) Availability() (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.available, h.reason
}

// Snapshot copies the capability names and values.
func (h *Handle) Snapshot() ([]string, map[string]any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	values := make(map[string]any, len(h.values))
	for name, value := range h.values {
		if value != nil {
			values[name] = value
		}
	}
	return h.caps.Names(), values
}

// IsMutationError reports whether err aborted a pass at the capability layer.
func IsMutationError(err error) bool {
	var merr *CapabilityMutationError
	return errors.As(err, &merr)
}
