package publish

import (
	"context"

	"github.com/micro-ha/loqed-bridge/addon/internal/device"
)

// StateFanout forwards capability and availability updates to every publisher.
type StateFanout []device.StatePublisher

// NewStateFanout drops nil publishers.
func NewStateFanout(publishers ...device.StatePublisher) StateFanout {
	out := make(StateFanout, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f StateFanout) PublishCapability(ctx context.Context, deviceID string, capability string, value any) {
	for _, p := range f {
		p.PublishCapability(ctx, deviceID, capability, value)
	}
}

func (f StateFanout) PublishAvailability(ctx context.Context, deviceID string, available bool, reason string) {
	for _, p := range f {
		p.PublishAvailability(ctx, deviceID, available, reason)
	}
}
