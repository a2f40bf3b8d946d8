package device

import (
	"context"

	"github.com/micro-ha/loqed-bridge/addon/internal/loqed"
	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

// Gateway is the remote lock API used by current-variant devices.
type Gateway interface {
	ListLocks(ctx context.Context) ([]model.LockSnapshot, error)
	SetBoltState(ctx context.Context, lockID string, state model.BoltState) error
	SetSetting(ctx context.Context, lockID string, name string, value bool) error
	CreateWebhook(ctx context.Context, lockID string) (string, error)
	DeleteWebhook(ctx context.Context, lockID string, webhookID string) error
	ListKeys(ctx context.Context, lockID string) ([]model.Key, error)
}

// LegacyGateway pushes state to locks paired through the legacy flow.
type LegacyGateway interface {
	ChangeLockState(ctx context.Context, creds loqed.LegacyCredentials, lockID string, state model.BoltState) error
	AwaitCredentials(ctx context.Context, lockID string, fetch loqed.CredentialFetcher) (loqed.LegacyCredentials, error)
}

// Store persists device records, capability membership and values, and the
// per-device key/value store.
type Store interface {
	UpsertDevice(ctx context.Context, rec model.DeviceRecord) error
	GetDevice(ctx context.Context, id string) (model.DeviceRecord, error)
	ListDevices(ctx context.Context) ([]model.DeviceRecord, error)
	UpdateDeviceSettings(ctx context.Context, id string, settings map[string]any) error
	DeleteDevice(ctx context.Context, id string) error

	LoadCapabilities(ctx context.Context, deviceID string) (map[string]any, error)
	AddCapability(ctx context.Context, deviceID string, name string) error
	RemoveCapability(ctx context.Context, deviceID string, name string) error
	SetCapabilityValue(ctx context.Context, deviceID string, name string, value any) error
	SwapCapability(ctx context.Context, deviceID string, retire string, add string, value any) error

	GetStoreValue(ctx context.Context, deviceID string, key string) (string, error)
	SetStoreValue(ctx context.Context, deviceID string, key string, value string) error
	DeleteStoreValue(ctx context.Context, deviceID string, key string) error
}

// TriggerSink receives automation triggers.
type TriggerSink interface {
	Fire(ctx context.Context, trigger model.Trigger) error
}

// StatePublisher mirrors capability values and availability outward.
type StatePublisher interface {
	PublishCapability(ctx context.Context, deviceID string, capability string, value any)
	PublishAvailability(ctx context.Context, deviceID string, available bool, reason string)
}

// Scheduler runs a periodic poll job per device.
type Scheduler interface {
	Schedule(deviceID string, job func(ctx context.Context)) error
	Unschedule(deviceID string)
}

type noopTriggers struct{}

func (noopTriggers) Fire(context.Context, model.Trigger) error { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishCapability(context.Context, string, string, any) {}

func (noopPublisher) PublishAvailability(context.Context, string, bool, string) {}

type noopScheduler struct{}

func (noopScheduler) Schedule(string, func(context.Context)) error { return nil }

func (noopScheduler) Unschedule(string) {}
