package publish

import "strings"

const defaultTopicPrefix = "loqed"

// Topics builds the MQTT topic layout under one prefix.
type Topics struct {
	prefix string
}

func NewTopics(prefix string) Topics {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// BridgeStatus is the retained online/offline topic of the addon itself.
func (t Topics) BridgeStatus() string {
	return t.prefix + "/bridge/status"
}

func (t Topics) Event(deviceID, card string) string {
	return t.prefix + "/" + deviceID + "/event/" + card
}

func (t Topics) State(deviceID, capability string) string {
	return t.prefix + "/" + deviceID + "/state/" + capability
}

func (t Topics) Availability(deviceID string) string {
	return t.prefix + "/" + deviceID + "/availability"
}
