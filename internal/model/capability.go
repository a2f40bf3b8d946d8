package model

import (
	"fmt"
	"sort"
	"strings"
)

// Capability names exposed by lock devices.
const (
	CapLocked         = "locked"
	CapOpen           = "open"
	CapMeasureBattery = "measure_battery"
	CapLockState      = "lock_state"
)

// Feature is a logical boolean lock setting exposed either as a writable
// toggle or as a read-only sensor.
type Feature string

const (
	FeatureOpenHouseMode  Feature = "open_house_mode"
	FeatureTwistAssist    Feature = "twist_assist"
	FeatureTouchToConnect Feature = "touch_to_connect"
)

// Features lists every logical feature in a stable order.
var Features = []Feature{FeatureOpenHouseMode, FeatureTwistAssist, FeatureTouchToConnect}

// ParseFeature resolves a feature by name.
func ParseFeature(raw string) (Feature, bool) {
	value := Feature(strings.ToLower(strings.TrimSpace(raw)))
	for _, feature := range Features {
		if feature == value {
			return feature, true
		}
	}
	return "", false
}

// ToggleCapability is the writable representation of the feature.
func (f Feature) ToggleCapability() string {
	return string(f)
}

// SensorCapability is the read-only representation of the feature.
func (f Feature) SensorCapability() string {
	return string(f) + "_sensor"
}

// Capability returns the representation selected by asSensor.
func (f Feature) Capability(asSensor bool) string {
	if asSensor {
		return f.SensorCapability()
	}
	return f.ToggleCapability()
}

// RemoteSetting is the setting name used by the lock API.
func (f Feature) RemoteSetting() string {
	if f == FeatureOpenHouseMode {
		return "guest_access_mode"
	}
	return string(f)
}

// ChangedCard is the trigger card fired when the feature flips.
func (f Feature) ChangedCard() string {
	return string(f) + "_changed"
}

// SettingKey is the device setting that selects the sensor representation.
func (f Feature) SettingKey() string {
	return string(f) + "_as_sensor"
}

// CapabilitySet is an immutable set of capability names.
type CapabilitySet struct {
	names map[string]struct{}
}

// NewCapabilitySet builds a set from names.
func NewCapabilitySet(names ...string) CapabilitySet {
	set := CapabilitySet{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			set.names[name] = struct{}{}
		}
	}
	return set
}

// Has reports membership.
func (s CapabilitySet) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// With returns a copy including name.
func (s CapabilitySet) With(name string) CapabilitySet {
	if s.Has(name) {
		return s
	}
	return NewCapabilitySet(append(s.Names(), name)...)
}

// Without returns a copy excluding name.
func (s CapabilitySet) Without(name string) CapabilitySet {
	if !s.Has(name) {
		return s
	}
	out := CapabilitySet{names: make(map[string]struct{}, len(s.names))}
	for item := range s.names {
		if item != name {
			out.names[item] = struct{}{}
		}
	}
	return out
}

// Len returns the number of capabilities.
func (s CapabilitySet) Len() int {
	return len(s.names)
}

// Names returns sorted capability names.
func (s CapabilitySet) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Representation returns the active capability of feature and whether it is the sensor.
func (s CapabilitySet) Representation(feature Feature) (string, bool, bool) {
	if s.Has(feature.SensorCapability()) {
		return feature.SensorCapability(), true, true
	}
	if s.Has(feature.ToggleCapability()) {
		return feature.ToggleCapability(), false, true
	}
	return "", false, false
}

// Validate checks that every feature has exactly one representation.
func (s CapabilitySet) Validate() error {
	for _, feature := range Features {
		toggle := s.Has(feature.ToggleCapability())
		sensor := s.Has(feature.SensorCapability())
		if toggle && sensor {
			return fmt.Errorf("feature %s has both toggle and sensor capabilities", feature)
		}
		if !toggle && !sensor {
			return fmt.Errorf("feature %s has no capability", feature)
		}
	}
	return nil
}
