package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/micro-ha/loqed-bridge/addon/internal/loqed"
	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

// ErrLockMissing means the account no longer lists the lock.
var ErrLockMissing = errors.New("lock not present in remote list")

// Lock is a device paired through the current integrations API.
type Lock struct {
	*base

	gateway    Gateway
	scheduler  Scheduler
	reconciler *Reconciler
	toggles    *ToggleManager

	stateMu   sync.RWMutex
	supported []model.BoltState
}

func NewLock(ctx context.Context, rec model.DeviceRecord, deps Deps) (*Lock, error) {
	deps = deps.withDefaults()
	if deps.Gateway == nil {
		return nil, errors.New("lock gateway is required")
	}
	rec.Variant = model.VariantCurrent
	b, err := newBase(ctx, rec, deps)
	if err != nil {
		return nil, err
	}
	return &Lock{
		base:       b,
		gateway:    deps.Gateway,
		scheduler:  deps.Scheduler,
		reconciler: NewReconciler(b.handle, deps.Triggers, b.logger),
		toggles:    NewToggleManager(b.handle),
	}, nil
}

// OnInit prepares capabilities, subscribes to pushes, runs the bootstrap poll
// and schedules periodic polling.
func (l *Lock) OnInit(ctx context.Context) error {
	settings := l.record().Settings
	err := l.queue.Do(ctx, func(ctx context.Context) error {
		if err := l.ensureCapabilities(ctx, model.CapLocked, model.CapOpen, model.CapMeasureBattery, model.CapLockState); err != nil {
			return err
		}
		return l.toggles.Apply(ctx, settings)
	})
	if err != nil {
		return fmt.Errorf("prepare capabilities: %w", err)
	}

	if err := l.ensureWebhook(ctx); err != nil {
		l.logger.Warn("webhook subscription failed", "error", err)
	}
	if err := l.poll(ctx, true); err != nil {
		l.logger.Warn("bootstrap poll failed", "error", err)
	}
	return l.scheduler.Schedule(l.ID(), func(ctx context.Context) {
		if err := l.poll(ctx, false); err != nil {
			l.logger.Warn("poll failed", "error", err)
		}
	})
}

// Refresh polls the lock immediately.
func (l *Lock) Refresh(ctx context.Context) error {
	return l.poll(ctx, false)
}

func (l *Lock) poll(ctx context.Context, init bool) error {
	locks, err := l.gateway.ListLocks(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	for _, snap := range locks {
		if snap.ID != l.ID() {
			continue
		}
		l.stateMu.Lock()
		l.supported = snap.SupportedBoltStates
		l.stateMu.Unlock()
		return l.queue.Do(ctx, func(ctx context.Context) error {
			return l.reconciler.ApplySnapshot(ctx, snap, init)
		})
	}
	return ErrLockMissing
}

func (l *Lock) HandleWebhook(ctx context.Context, event model.WebhookEvent) error {
	return l.enqueueWebhook(ctx, func(ctx context.Context) error {
		return l.reconciler.ApplyEvent(ctx, event)
	})
}

// OnSettings reconfigures the features whose representation setting changed.
func (l *Lock) OnSettings(ctx context.Context, oldSettings, newSettings map[string]any) error {
	l.setSettings(newSettings)
	before := model.DeviceRecord{Settings: oldSettings}
	after := model.DeviceRecord{Settings: newSettings}

	var errs []error
	for _, feature := range model.Features {
		key := feature.SettingKey()
		asSensor := after.BoolSetting(key, false)
		if before.BoolSetting(key, false) == asSensor {
			continue
		}
		err := l.queue.Do(ctx, func(ctx context.Context) error {
			return l.toggles.Reconfigure(ctx, feature, asSensor)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", feature, err))
		}
	}
	return errors.Join(errs...)
}

// OnDeleted stops polling and removes the push subscription.
func (l *Lock) OnDeleted(ctx context.Context) error {
	l.scheduler.Unschedule(l.ID())
	err := l.removeWebhook(ctx)
	l.shutdown()
	return err
}

// Close stops polling and the device queue without touching the remote side.
func (l *Lock) Close() {
	l.scheduler.Unschedule(l.ID())
	l.shutdown()
}

func (l *Lock) ensureWebhook(ctx context.Context) error {
	existing, err := l.webhookID(ctx)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	webhookID, err := l.gateway.CreateWebhook(ctx, l.ID())
	if errors.Is(err, loqed.ErrNoWebhookURL) {
		l.logger.Info("webhook url not configured, relying on polling")
		return nil
	}
	if err != nil {
		return err
	}
	return l.store.SetStoreValue(ctx, l.ID(), webhookStoreKey, webhookID)
}

func (l *Lock) removeWebhook(ctx context.Context) error {
	existing, err := l.webhookID(ctx)
	if err != nil || existing == "" {
		return err
	}
	if err := l.gateway.DeleteWebhook(ctx, l.ID(), existing); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return l.store.DeleteStoreValue(ctx, l.ID(), webhookStoreKey)
}

// SetBoltState commands the lock. Local state follows the resulting push or poll.
func (l *Lock) SetBoltState(ctx context.Context, state model.BoltState) error {
	if !state.Known() {
		return ErrUnsupportedState
	}
	l.stateMu.RLock()
	snap := model.LockSnapshot{SupportedBoltStates: l.supported}
	l.stateMu.RUnlock()
	if !snap.Supports(state) {
		return ErrUnsupportedState
	}
	return l.gateway.SetBoltState(ctx, l.ID(), state)
}

// SetFeature writes a feature remotely and mirrors it into the toggle.
func (l *Lock) SetFeature(ctx context.Context, feature model.Feature, value bool) error {
	_, isSensor, ok := l.handle.Capabilities().Representation(feature)
	if !ok {
		return ErrNotSupported
	}
	if isSensor {
		return ErrReadOnlyFeature
	}
	if err := l.gateway.SetSetting(ctx, l.ID(), feature.RemoteSetting(), value); err != nil {
		return err
	}
	return l.queue.Do(ctx, func(ctx context.Context) error {
		return l.handle.Write(ctx, feature.ToggleCapability(), value)
	})
}

// ListKeys returns keys whose administrator name contains query.
func (l *Lock) ListKeys(ctx context.Context, query string) ([]model.KeyOption, error) {
	keys, err := l.gateway.ListKeys(ctx, l.ID())
	if err != nil {
		return nil, err
	}
	return FilterKeys(keys, query), nil
}

func (l *Lock) View(ctx context.Context) model.DeviceView {
	return l.view(ctx)
}

// FilterKeys matches administrator names case-insensitively.
func FilterKeys(keys []model.Key, query string) []model.KeyOption {
	needle := strings.ToLower(strings.TrimSpace(query))
	out := []model.KeyOption{}
	for _, key := range keys {
		if !strings.Contains(strings.ToLower(key.AdministratorName), needle) {
			continue
		}
		out = append(out, model.KeyOption{Name: key.AdministratorName, ID: key.Name})
	}
	return out
}
