package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

const restoreConcurrency = 4

// Manager owns device lifecycles: attach, detach, settings and restore.
type Manager struct {
	deps     Deps
	registry *Registry
	logger   *slog.Logger
}

func NewManager(deps Deps, registry *Registry) *Manager {
	deps = deps.withDefaults()
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{
		deps:     deps,
		registry: registry,
		logger:   deps.Logger.With("component", "device_manager"),
	}
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Attach persists rec and brings the device online.
func (m *Manager) Attach(ctx context.Context, rec model.DeviceRecord) (Lifecycle, error) {
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return nil, errors.New("device id is required")
	}
	if _, exists := m.registry.Get(rec.ID); exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, rec.ID)
	}
	rec.Variant = model.NormalizeVariant(rec.Variant)
	if strings.TrimSpace(rec.Name) == "" {
		rec.Name = "LOQED " + rec.ID
	}
	if err := m.deps.Store.UpsertDevice(ctx, rec); err != nil {
		return nil, fmt.Errorf("store device: %w", err)
	}
	return m.start(ctx, rec)
}

func (m *Manager) start(ctx context.Context, rec model.DeviceRecord) (Lifecycle, error) {
	dev, err := m.build(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !m.registry.Add(dev) {
		dev.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, rec.ID)
	}
	if err := dev.OnInit(ctx); err != nil {
		m.registry.Remove(rec.ID)
		dev.Close()
		return nil, fmt.Errorf("init device %s: %w", rec.ID, err)
	}
	m.logger.Info("device attached", "device_id", rec.ID, "variant", string(rec.Variant))
	return dev, nil
}

func (m *Manager) build(ctx context.Context, rec model.DeviceRecord) (Lifecycle, error) {
	switch rec.Variant {
	case model.VariantLegacy:
		return NewLegacyLock(ctx, rec, m.deps)
	default:
		return NewLock(ctx, rec, m.deps)
	}
}

// Detach tears the device down and forgets it.
func (m *Manager) Detach(ctx context.Context, id string) error {
	dev, ok := m.registry.Remove(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, id)
	}
	var errs []error
	if err := dev.OnDeleted(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.deps.Store.DeleteDevice(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("delete device record: %w", err))
	}
	m.logger.Info("device detached", "device_id", id)
	return errors.Join(errs...)
}

// UpdateSettings merges patch into the stored settings and notifies the device.
func (m *Manager) UpdateSettings(ctx context.Context, id string, patch map[string]any) (model.DeviceView, error) {
	dev, ok := m.registry.Get(id)
	if !ok {
		return model.DeviceView{}, fmt.Errorf("%w: %s", ErrNotAttached, id)
	}
	rec, err := m.deps.Store.GetDevice(ctx, id)
	if err != nil {
		return model.DeviceView{}, err
	}
	oldSettings := rec.Settings
	newSettings := make(map[string]any, len(oldSettings)+len(patch))
	for k, v := range oldSettings {
		newSettings[k] = v
	}
	for k, v := range patch {
		newSettings[k] = v
	}
	if err := m.deps.Store.UpdateDeviceSettings(ctx, id, newSettings); err != nil {
		return model.DeviceView{}, err
	}
	if err := dev.OnSettings(ctx, oldSettings, newSettings); err != nil {
		return dev.View(ctx), err
	}
	return dev.View(ctx), nil
}

// Restore attaches every stored device. Failures are collected, not fatal.
func (m *Manager) Restore(ctx context.Context) error {
	records, err := m.deps.Store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	errs := make([]error, len(records))
	var group errgroup.Group
	group.SetLimit(restoreConcurrency)
	for i, rec := range records {
		group.Go(func() error {
			if _, err := m.start(ctx, rec); err != nil {
				errs[i] = err
				m.logger.Warn("restore device failed", "device_id", rec.ID, "error", err)
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(errs...)
}

// ListPairable returns remote locks that are not attached yet.
func (m *Manager) ListPairable(ctx context.Context) ([]model.LockSnapshot, error) {
	if m.deps.Gateway == nil {
		return []model.LockSnapshot{}, nil
	}
	locks, err := m.deps.Gateway.ListLocks(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.LockSnapshot{}
	for _, lock := range locks {
		if _, attached := m.registry.Get(lock.ID); attached {
			continue
		}
		out = append(out, lock)
	}
	return out, nil
}

// Close stops every device without touching remote subscriptions.
func (m *Manager) Close() {
	for _, dev := range m.registry.List() {
		dev.Close()
	}
}
