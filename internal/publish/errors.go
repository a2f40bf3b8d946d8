package publish

import "errors"

var (
	// ErrNotConnected is returned when publishing on a disconnected broker client.
	ErrNotConnected = errors.New("mqtt: client not connected")
	// ErrConnectionFailed is returned when the initial broker connection fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	// ErrPublishFailed wraps broker publish failures and timeouts.
	ErrPublishFailed = errors.New("mqtt: publish failed")
	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	// ErrHassAuth is returned when Home Assistant rejects the access token.
	ErrHassAuth = errors.New("hass: authentication failed")
	// ErrHassRejected is returned when Home Assistant answers a command with success=false.
	ErrHassRejected = errors.New("hass: command rejected")
)
