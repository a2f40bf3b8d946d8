package model

import "time"

// FlowRule is a user automation filter attached to one trigger card of a device.
type FlowRule struct {
	ID        string            `json:"id"`
	DeviceID  string            `json:"device_id"`
	Card      string            `json:"card"`
	Args      map[string]string `json:"args"`
	CreatedAt time.Time         `json:"created_at"`
}
