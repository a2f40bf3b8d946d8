package device

import (
	"context"
	"errors"
	"sync"

	"github.com/micro-ha/loqed-bridge/addon/internal/loqed"
	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

// Settings keys carrying legacy credentials.
const (
	SettingLockType   = "lock_type"
	SettingAPIKey     = "api_key"
	SettingAPIToken   = "api_token"
	SettingLocalKeyID = "local_key_id"
)

// LegacyLock is a device paired through the legacy webhook flow. It has no
// polling and only learns state from pushes.
type LegacyLock struct {
	*base

	legacy   LegacyGateway
	triggers TriggerSink

	credMu sync.RWMutex
	creds  loqed.LegacyCredentials
	cancel context.CancelFunc
	waited chan struct{}
}

func NewLegacyLock(ctx context.Context, rec model.DeviceRecord, deps Deps) (*LegacyLock, error) {
	deps = deps.withDefaults()
	if deps.Legacy == nil {
		return nil, errors.New("legacy gateway is required")
	}
	rec.Variant = model.VariantLegacy
	b, err := newBase(ctx, rec, deps)
	if err != nil {
		return nil, err
	}
	return &LegacyLock{
		base:     b,
		legacy:   deps.Legacy,
		triggers: deps.Triggers,
		creds:    credentialsFromSettings(rec.Settings),
	}, nil
}

func credentialsFromSettings(settings map[string]any) loqed.LegacyCredentials {
	rec := model.DeviceRecord{Settings: settings}
	return loqed.LegacyCredentials{
		LockType:   rec.StringSetting(SettingLockType),
		APIKey:     rec.StringSetting(SettingAPIKey),
		APIToken:   rec.StringSetting(SettingAPIToken),
		LocalKeyID: rec.StringSetting(SettingLocalKeyID),
	}
}

func (l *LegacyLock) credentials() loqed.LegacyCredentials {
	l.credMu.RLock()
	defer l.credMu.RUnlock()
	return l.creds
}

func (l *LegacyLock) setCredentials(creds loqed.LegacyCredentials) {
	l.credMu.Lock()
	defer l.credMu.Unlock()
	l.creds = creds
}

// OnInit adds the legacy capabilities and, when credentials are still
// missing, waits for them to show up in the stored settings.
func (l *LegacyLock) OnInit(ctx context.Context) error {
	err := l.queue.Do(ctx, func(ctx context.Context) error {
		return l.ensureCapabilities(ctx, model.CapLocked, model.CapLockState)
	})
	if err != nil {
		return err
	}
	if l.credentials().Complete() {
		return nil
	}

	waitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.waited = make(chan struct{})
	go func() {
		defer close(l.waited)
		creds, err := l.legacy.AwaitCredentials(waitCtx, l.ID(), loqed.CredentialFetcherFunc(l.fetchStoredCredentials))
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				l.logger.Warn("legacy credentials unavailable", "error", err)
			}
			return
		}
		l.setCredentials(creds)
		l.logger.Info("legacy credentials loaded")
	}()
	return nil
}

func (l *LegacyLock) fetchStoredCredentials(ctx context.Context, lockID string) (loqed.LegacyCredentials, error) {
	rec, err := l.store.GetDevice(ctx, lockID)
	if err != nil {
		return loqed.LegacyCredentials{}, err
	}
	return credentialsFromSettings(rec.Settings), nil
}

func (l *LegacyLock) HandleWebhook(ctx context.Context, event model.WebhookEvent) error {
	return l.enqueueWebhook(ctx, func(ctx context.Context) error {
		return l.apply(ctx, event)
	})
}

// apply mirrors a pushed state. Handle-operated cylinders report OPEN while
// unlocked, other lock types keep their locked value on OPEN.
func (l *LegacyLock) apply(ctx context.Context, event model.WebhookEvent) error {
	h := l.handle
	if h.Gone() {
		return nil
	}
	state := model.NormalizeBoltState(event.RequestedState)
	if !state.Known() {
		return nil
	}
	if raw, ok := h.StringValue(model.CapLockState); ok && model.NormalizeBoltState(raw) == state {
		return nil
	}

	switch {
	case state == model.BoltOpen && l.credentials().LockType == loqed.LockTypeCylinderWithHandle:
		if err := h.Write(ctx, model.CapLocked, false); err != nil {
			return err
		}
	case state == model.BoltNightLock:
		if err := h.Write(ctx, model.CapLocked, true); err != nil {
			return err
		}
	case state == model.BoltDayLock:
		if err := h.Write(ctx, model.CapLocked, false); err != nil {
			return err
		}
	}
	if err := h.Write(ctx, model.CapLockState, string(state)); err != nil {
		return err
	}
	if h.Gone() {
		return nil
	}

	err := l.triggers.Fire(ctx, model.Trigger{
		DeviceID: l.ID(),
		Card:     model.CardLockStateChanged,
		Tokens:   map[string]any{"lockState": string(state), "keyAccountEmail": event.KeyAccountEmail},
		State:    map[string]any{"lock_state": string(state)},
	})
	if err != nil {
		l.logger.Warn("trigger failed", "card", model.CardLockStateChanged, "error", err)
	}
	return nil
}

func (l *LegacyLock) SetBoltState(ctx context.Context, state model.BoltState) error {
	if !state.Known() {
		return ErrUnsupportedState
	}
	return l.legacy.ChangeLockState(ctx, l.credentials(), l.ID(), state)
}

func (l *LegacyLock) OnSettings(ctx context.Context, oldSettings, newSettings map[string]any) error {
	l.setSettings(newSettings)
	if creds := credentialsFromSettings(newSettings); creds.Complete() {
		l.setCredentials(creds)
	}
	return nil
}

func (l *LegacyLock) OnDeleted(ctx context.Context) error {
	l.Close()
	return nil
}

func (l *LegacyLock) Close() {
	if l.cancel != nil {
		l.cancel()
		<-l.waited
	}
	l.shutdown()
}

func (l *LegacyLock) View(ctx context.Context) model.DeviceView {
	return l.view(ctx)
}
