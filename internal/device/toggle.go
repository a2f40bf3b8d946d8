package device

import (
	"context"
	"fmt"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

// ToggleManager switches features between their writable toggle and their
// read-only sensor representation. Calls run inside the device queue.
type ToggleManager struct {
	handle *Handle
}

func NewToggleManager(handle *Handle) *ToggleManager {
	return &ToggleManager{handle: handle}
}

// Reconfigure makes feature exposed as a sensor (asSensor) or as a toggle,
// carrying the last known value into the new capability.
func (m *ToggleManager) Reconfigure(ctx context.Context, feature model.Feature, asSensor bool) error {
	h := m.handle
	target := feature.Capability(asSensor)
	retired := feature.Capability(!asSensor)

	caps := h.Capabilities()
	if caps.Has(target) && !caps.Has(retired) {
		return nil
	}

	var value any
	if v, ok := h.Value(target); ok {
		value = v
	} else if v, ok := h.Value(retired); ok {
		value = v
	}

	if !caps.Has(retired) {
		retired = ""
	}
	if err := h.Swap(ctx, retired, target, value); err != nil {
		return err
	}
	if h.Gone() {
		return nil
	}
	if _, _, ok := h.Capabilities().Representation(feature); !ok {
		return &CapabilityMutationError{DeviceID: h.ID(), Capability: target, Op: "swap", Err: fmt.Errorf("feature %s left without representation", feature)}
	}
	return nil
}

// Apply brings every feature to the representation selected by settings.
func (m *ToggleManager) Apply(ctx context.Context, settings map[string]any) error {
	rec := model.DeviceRecord{Settings: settings}
	for _, feature := range model.Features {
		if err := m.Reconfigure(ctx, feature, rec.BoolSetting(feature.SettingKey(), false)); err != nil {
			return err
		}
	}
	return nil
}
