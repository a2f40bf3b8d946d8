package model

import "time"

// Variant tags the device implementation a record belongs to.
type Variant string

const (
	VariantCurrent Variant = "current"
	VariantLegacy  Variant = "legacy"
)

// NormalizeVariant applies the backward-compatible default variant.
func NormalizeVariant(v Variant) Variant {
	if v == VariantLegacy {
		return VariantLegacy
	}
	return VariantCurrent
}

// DeviceRecord is a persisted paired device.
type DeviceRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Variant   Variant        `json:"variant"`
	Settings  map[string]any `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// BoolSetting reads a boolean setting with a fallback.
func (r DeviceRecord) BoolSetting(key string, fallback bool) bool {
	if r.Settings == nil {
		return fallback
	}
	switch v := r.Settings[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return fallback
	}
}

// StringSetting reads a string setting.
func (r DeviceRecord) StringSetting(key string) string {
	if r.Settings == nil {
		return ""
	}
	if v, ok := r.Settings[key].(string); ok {
		return v
	}
	return ""
}

// DeviceView is the API read model of one device.
type DeviceView struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Variant           Variant        `json:"variant"`
	Available         bool           `json:"available"`
	UnavailableReason string         `json:"unavailable_reason,omitempty"`
	Capabilities      []string       `json:"capabilities"`
	Values            map[string]any `json:"values"`
	Settings          map[string]any `json:"settings"`
	WebhookSubscribed bool           `json:"webhook_subscribed"`
}
