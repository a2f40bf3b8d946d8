package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/micro-ha/loqed-bridge/addon/internal/device"
	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

var (
	// ErrMalformedEvent is returned for payloads that are not a JSON event
	// carrying a lock id.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrUnmatchedDevice is returned when no attached device owns the lock id.
	ErrUnmatchedDevice = errors.New("no device matches webhook event")
	// ErrSelfOrigin is returned for events caused by this bridge's own key.
	ErrSelfOrigin = errors.New("webhook event originated from the bridge")
)

// DeviceLookup resolves attached devices by lock id and variant.
type DeviceLookup interface {
	Lookup(id string, variant model.Variant) (device.Lifecycle, bool)
}

// SelfOriginPolicy drops events whose administrator key name equals KeyName.
// An empty KeyName disables filtering.
type SelfOriginPolicy struct {
	KeyName string
}

func (p SelfOriginPolicy) Drops(event model.WebhookEvent) bool {
	name := strings.TrimSpace(p.KeyName)
	if name == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(event.KeyNameAdmin), name)
}

// Router parses inbound push events and forwards them to the owning device.
type Router struct {
	devices DeviceLookup
	policy  SelfOriginPolicy
	logger  *slog.Logger
}

func NewRouter(devices DeviceLookup, policy SelfOriginPolicy, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{devices: devices, policy: policy, logger: logger.With("component", "webhook")}
}

// Parse decodes one raw event payload.
func Parse(raw []byte) (model.WebhookEvent, error) {
	var event model.WebhookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return model.WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.LockID == "" {
		return model.WebhookEvent{}, fmt.Errorf("%w: missing lock_id", ErrMalformedEvent)
	}
	return event, nil
}

// Dispatch routes raw to the device registered for its lock id and variant.
// Reconciliation runs on the device queue; Dispatch does not wait for it.
func (r *Router) Dispatch(ctx context.Context, raw []byte, variant model.Variant) error {
	event, err := Parse(raw)
	if err != nil {
		r.logger.Warn("webhook dropped", "variant", variant, "error", err)
		return err
	}
	logger := r.logger.With("device_id", event.LockID.String(), "variant", variant)

	if r.policy.Drops(event) {
		logger.Debug("webhook from own key ignored", "key_name_admin", event.KeyNameAdmin)
		return ErrSelfOrigin
	}

	dev, ok := r.devices.Lookup(event.LockID.String(), variant)
	if !ok {
		logger.Debug("webhook for unknown device")
		return fmt.Errorf("%w: %s", ErrUnmatchedDevice, event.LockID)
	}

	if err := dev.HandleWebhook(ctx, event); err != nil {
		if errors.Is(err, device.ErrQueueClosed) {
			logger.Debug("webhook for detaching device")
			return fmt.Errorf("%w: %s", ErrUnmatchedDevice, event.LockID)
		}
		logger.Warn("webhook forward failed", "error", err)
		return err
	}
	logger.Debug("webhook forwarded", "event_type", event.EventType, "requested_state", event.RequestedState)
	return nil
}
