package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
	"github.com/micro-ha/loqed-bridge/addon/internal/storage"
)

const webhookStoreKey = "webhook_id"

// Lifecycle is implemented by every device variant.
type Lifecycle interface {
	ID() string
	Variant() model.Variant
	OnInit(ctx context.Context) error
	OnSettings(ctx context.Context, oldSettings, newSettings map[string]any) error
	OnDeleted(ctx context.Context) error
	HandleWebhook(ctx context.Context, event model.WebhookEvent) error
	SetBoltState(ctx context.Context, state model.BoltState) error
	View(ctx context.Context) model.DeviceView
	Close()
}

// FeatureSetter is implemented by variants with remotely writable features.
type FeatureSetter interface {
	SetFeature(ctx context.Context, feature model.Feature, value bool) error
}

// KeyLister is implemented by variants that can list authorized keys.
type KeyLister interface {
	ListKeys(ctx context.Context, query string) ([]model.KeyOption, error)
}

// Refresher is implemented by variants that can poll on demand.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Deps carries the collaborators shared by all devices.
type Deps struct {
	Store     Store
	Gateway   Gateway
	Legacy    LegacyGateway
	Scheduler Scheduler
	Triggers  TriggerSink
	Publisher StatePublisher
	Logger    *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Scheduler == nil {
		d.Scheduler = noopScheduler{}
	}
	if d.Triggers == nil {
		d.Triggers = noopTriggers{}
	}
	if d.Publisher == nil {
		d.Publisher = noopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d
}

// base holds what both variants share.
type base struct {
	store  Store
	handle *Handle
	queue  *Queue
	logger *slog.Logger

	mu  sync.RWMutex
	rec model.DeviceRecord
}

func newBase(ctx context.Context, rec model.DeviceRecord, deps Deps) (*base, error) {
	handle, err := LoadHandle(ctx, rec.ID, deps.Store, deps.Publisher)
	if err != nil {
		return nil, err
	}
	if rec.Settings == nil {
		rec.Settings = map[string]any{}
	}
	return &base{
		store:  deps.Store,
		handle: handle,
		queue:  NewQueue(defaultQueueSize),
		logger: deps.Logger.With("device_id", rec.ID, "variant", string(rec.Variant)),
		rec:    rec,
	}, nil
}

func (b *base) ID() string {
	return b.rec.ID
}

func (b *base) Variant() model.Variant {
	return b.rec.Variant
}

// Handle exposes the capability state of the device.
func (b *base) Handle() *Handle {
	return b.handle
}

func (b *base) record() model.DeviceRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	settings := make(map[string]any, len(b.rec.Settings))
	for k, v := range b.rec.Settings {
		settings[k] = v
	}
	rec := b.rec
	rec.Settings = settings
	return rec
}

func (b *base) setSettings(settings map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rec.Settings = settings
}

func (b *base) ensureCapabilities(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := b.handle.Add(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) webhookID(ctx context.Context) (string, error) {
	value, err := b.store.GetStoreValue(ctx, b.rec.ID, webhookStoreKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return strings.TrimSpace(value), err
}

func (b *base) view(ctx context.Context) model.DeviceView {
	rec := b.record()
	caps, values := b.handle.Snapshot()
	available, reason := b.handle.Availability()
	webhookID, _ := b.webhookID(ctx)
	return model.DeviceView{
		ID:                rec.ID,
		Name:              rec.Name,
		Variant:           rec.Variant,
		Available:         available,
		UnavailableReason: reason,
		Capabilities:      caps,
		Values:            values,
		Settings:          rec.Settings,
		WebhookSubscribed: webhookID != "",
	}
}

func (b *base) enqueueWebhook(ctx context.Context, apply func(ctx context.Context) error) error {
	return b.queue.Go(context.WithoutCancel(ctx), apply, func(err error) {
		b.logger.Warn("webhook reconcile failed", "error", err)
	})
}

// shutdown marks the handle gone before draining so queued passes become
// no-ops.
func (b *base) shutdown() {
	b.handle.MarkGone()
	b.queue.Close()
}
