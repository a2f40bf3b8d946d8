package model

import (
	"encoding/json"
	"strings"
)

// LockSnapshot is the remote truth of one lock at a point in time.
type LockSnapshot struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	BoltState           BoltState   `json:"bolt_state"`
	BatteryPercentage   int         `json:"battery_percentage"`
	GuestAccessMode     bool        `json:"guest_access_mode"`
	TwistAssist         bool        `json:"twist_assist"`
	TouchToConnect      bool        `json:"touch_to_connect"`
	Online              bool        `json:"online"`
	SupportedBoltStates []BoltState `json:"supported_bolt_states"`
}

// FeatureValue returns the snapshot value of one boolean feature flag.
func (s LockSnapshot) FeatureValue(feature Feature) bool {
	switch feature {
	case FeatureOpenHouseMode:
		return s.GuestAccessMode
	case FeatureTwistAssist:
		return s.TwistAssist
	case FeatureTouchToConnect:
		return s.TouchToConnect
	default:
		return false
	}
}

// Supports reports whether the lock accepts the given bolt state.
// An empty supported list means every state is accepted.
func (s LockSnapshot) Supports(state BoltState) bool {
	if len(s.SupportedBoltStates) == 0 {
		return true
	}
	for _, item := range s.SupportedBoltStates {
		if item == state {
			return true
		}
	}
	return false
}

// ClampBattery bounds a battery percentage to 0..100.
func ClampBattery(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

// Key is one authorized key of a lock.
type Key struct {
	Name              string `json:"name"`
	AdministratorName string `json:"administrator_name"`
}

// StateChangePrefix marks webhook events carrying an authoritative bolt transition.
const StateChangePrefix = "STATE_CHANGED_"

// WebhookEvent is one inbound push event.
type WebhookEvent struct {
	LockID            LockID `json:"lock_id"`
	EventType         string `json:"event_type,omitempty"`
	RequestedState    string `json:"requested_state,omitempty"`
	BatteryPercentage *int   `json:"battery_percentage,omitempty"`
	KeyNameAdmin      string `json:"key_name_admin,omitempty"`
	KeyNameUser       string `json:"key_name_user,omitempty"`
	KeyAccountEmail   string `json:"key_account_email,omitempty"`
}

// BoltTransition returns the bolt state carried by the event, if the event is
// authoritative for one.
func (e WebhookEvent) BoltTransition() (BoltState, bool) {
	eventType := strings.ToUpper(strings.TrimSpace(e.EventType))
	requested := strings.TrimSpace(e.RequestedState)
	switch {
	case strings.HasPrefix(eventType, StateChangePrefix):
		if requested != "" {
			return NormalizeBoltState(requested), true
		}
		return NormalizeBoltState(strings.TrimPrefix(eventType, StateChangePrefix)), true
	case eventType == "" && requested != "":
		return NormalizeBoltState(requested), true
	default:
		return BoltUnknown, false
	}
}

// LockID accepts both JSON strings and numbers; ids are always compared as strings.
type LockID string

func (id *LockID) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*id = LockID(strings.TrimSpace(text))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*id = LockID(number.String())
	return nil
}

func (id LockID) String() string {
	return string(id)
}
