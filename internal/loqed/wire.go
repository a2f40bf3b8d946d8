package loqed

import "github.com/micro-ha/loqed-bridge/addon/internal/model"

type lockPayload struct {
	ID                  model.LockID `json:"id"`
	Name                string       `json:"name"`
	BatteryPercentage   int          `json:"battery_percentage"`
	BoltState           string       `json:"bolt_state"`
	GuestAccessMode     *bool        `json:"guest_access_mode"`
	GuestAccesMode      *bool        `json:"guest_acces_mode"`
	TwistAssist         bool         `json:"twist_assist"`
	TouchToConnect      bool         `json:"touch_to_connect"`
	Online              bool         `json:"online"`
	SupportedLockStates []string     `json:"supported_lock_states"`
}

func (p lockPayload) snapshot() model.LockSnapshot {
	guest := false
	switch {
	case p.GuestAccessMode != nil:
		guest = *p.GuestAccessMode
	case p.GuestAccesMode != nil:
		guest = *p.GuestAccesMode
	}
	supported := make([]model.BoltState, 0, len(p.SupportedLockStates))
	for _, raw := range p.SupportedLockStates {
		if state := model.NormalizeBoltState(raw); state.Known() {
			supported = append(supported, state)
		}
	}
	return model.LockSnapshot{
		ID:                  p.ID.String(),
		Name:                p.Name,
		BoltState:           model.NormalizeBoltState(p.BoltState),
		BatteryPercentage:   model.ClampBattery(p.BatteryPercentage),
		GuestAccessMode:     guest,
		TwistAssist:         p.TwistAssist,
		TouchToConnect:      p.TouchToConnect,
		Online:              p.Online,
		SupportedBoltStates: supported,
	}
}

type settingRequest struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

type webhookRequest struct {
	URL             string `json:"url"`
	Info            bool   `json:"info"`
	GuestAccessMode bool   `json:"guest_access_mode"`
}

type webhookPayload struct {
	ID model.LockID `json:"id"`
}
