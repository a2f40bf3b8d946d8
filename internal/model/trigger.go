package model

// Trigger card identifiers.
const (
	CardOpened           = "opened"
	CardKeyState         = "key_state"
	CardLockStateChanged = "lock_state_changed"
)

// Trigger is one automation event raised by a device.
// Tokens are handed to consumers; State is what rule filters match against.
type Trigger struct {
	DeviceID string         `json:"device_id"`
	Card     string         `json:"card"`
	Tokens   map[string]any `json:"tokens,omitempty"`
	State    map[string]any `json:"state,omitempty"`
}

// KeyOption is one autocomplete entry for the key_state card.
type KeyOption struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}
