package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/micro-ha/loqed-bridge/addon/internal/flow"
)

const (
	eventQoS = 1
	stateQoS = 1
)

type eventPayload struct {
	DeviceID     string         `json:"device_id"`
	Card         string         `json:"card"`
	Tokens       map[string]any `json:"tokens"`
	State        map[string]any `json:"state"`
	MatchedRules []string       `json:"matched_rules"`
	FiredAt      time.Time      `json:"fired_at"`
}

// MQTTEvents publishes trigger firings as non-retained event messages.
type MQTTEvents struct {
	client MessagePublisher
	topics Topics
}

func NewMQTTEvents(client MessagePublisher, topics Topics) *MQTTEvents {
	return &MQTTEvents{client: client, topics: topics}
}

func (s *MQTTEvents) Name() string { return "mqtt" }

func (s *MQTTEvents) Publish(_ context.Context, firing flow.Firing) error {
	body, err := json.Marshal(eventPayload{
		DeviceID:     firing.DeviceID,
		Card:         firing.Card,
		Tokens:       nonNil(firing.Tokens),
		State:        nonNil(firing.State),
		MatchedRules: firing.MatchedRules,
		FiredAt:      firing.FiredAt,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.client.Publish(s.topics.Event(firing.DeviceID, firing.Card), body, eventQoS, false)
}

// MQTTState mirrors capability values and availability as retained messages.
type MQTTState struct {
	client MessagePublisher
	topics Topics
	logger *slog.Logger
}

func NewMQTTState(client MessagePublisher, topics Topics, logger *slog.Logger) *MQTTState {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MQTTState{client: client, topics: topics, logger: logger.With("component", "mqtt_state")}
}

func (s *MQTTState) PublishCapability(_ context.Context, deviceID string, capability string, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("encode capability failed", "device_id", deviceID, "capability", capability, "error", err)
		return
	}
	if err := s.client.Publish(s.topics.State(deviceID, capability), body, stateQoS, true); err != nil {
		s.logger.Warn("publish capability failed", "device_id", deviceID, "capability", capability, "error", err)
	}
}

func (s *MQTTState) PublishAvailability(_ context.Context, deviceID string, available bool, reason string) {
	body, _ := json.Marshal(map[string]any{"available": available, "reason": reason})
	if err := s.client.Publish(s.topics.Availability(deviceID), body, stateQoS, true); err != nil {
		s.logger.Warn("publish availability failed", "device_id", deviceID, "error", err)
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
