package device

import (
	"context"
	"io"
	"log/slog"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

type updateSource string

const (
	sourcePoll    updateSource = "poll"
	sourceWebhook updateSource = "webhook"
)

// update is one normalized input to a reconciliation pass.
type update struct {
	source   updateSource
	bolt     model.BoltState
	hasBolt  bool
	battery  *int
	keyName  string
	features map[model.Feature]bool
	online   *bool
	init     bool
}

// Reconciler applies remote truth to a device handle and raises triggers for
// observed transitions. Callers serialize passes through the device queue.
type Reconciler struct {
	handle   *Handle
	triggers TriggerSink
	logger   *slog.Logger
}

func NewReconciler(handle *Handle, triggers TriggerSink, logger *slog.Logger) *Reconciler {
	if triggers == nil {
		triggers = noopTriggers{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{handle: handle, triggers: triggers, logger: logger}
}

// ApplySnapshot runs one pass for a polled snapshot. init marks the bootstrap
// pass right after attach.
func (r *Reconciler) ApplySnapshot(ctx context.Context, snap model.LockSnapshot, init bool) error {
	battery := snap.BatteryPercentage
	online := snap.Online
	features := make(map[model.Feature]bool, len(model.Features))
	for _, feature := range model.Features {
		features[feature] = snap.FeatureValue(feature)
	}
	return r.apply(ctx, update{
		source:   sourcePoll,
		bolt:     model.NormalizeBoltState(string(snap.BoltState)),
		hasBolt:  true,
		battery:  &battery,
		features: features,
		online:   &online,
		init:     init,
	})
}

// ApplyEvent runs one pass for a webhook event.
func (r *Reconciler) ApplyEvent(ctx context.Context, event model.WebhookEvent) error {
	bolt, hasBolt := event.BoltTransition()
	return r.apply(ctx, update{
		source:  sourceWebhook,
		bolt:    bolt,
		hasBolt: hasBolt,
		battery: event.BatteryPercentage,
		keyName: event.KeyNameAdmin,
	})
}

// Belief reconstructs the bolt state from the applied capability values.
func (r *Reconciler) Belief() model.BoltState {
	h := r.handle
	if raw, ok := h.StringValue(model.CapLockState); ok {
		if state := model.NormalizeBoltState(raw); state.Known() {
			return state
		}
	}
	locked, ok := h.BoolValue(model.CapLocked)
	if !ok {
		return model.BoltUnknown
	}
	if locked {
		return model.BoltNightLock
	}
	if open, ok := h.BoolValue(model.CapOpen); ok && open {
		return model.BoltOpen
	}
	return model.BoltDayLock
}

func (r *Reconciler) apply(ctx context.Context, u update) error {
	h := r.handle
	if h.Gone() {
		return nil
	}

	if u.online != nil {
		if *u.online {
			h.SetAvailability(ctx, true, "")
		} else {
			h.SetAvailability(ctx, false, offlineReason)
		}
	}

	if u.hasBolt && u.bolt.Known() {
		belief := r.Belief()
		if belief != u.bolt {
			if err := r.writeBolt(ctx, u.bolt); err != nil {
				return err
			}
			// A first poll has nothing to compare against.
			if belief.Known() || u.source == sourceWebhook {
				r.fireBoltTriggers(ctx, u)
			}
		}
	}

	if u.battery != nil {
		if err := h.Write(ctx, model.CapMeasureBattery, model.ClampBattery(*u.battery)); err != nil {
			return err
		}
	}

	if u.features != nil {
		if err := r.applyFeatures(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) writeBolt(ctx context.Context, state model.BoltState) error {
	h := r.handle
	if err := h.Write(ctx, model.CapLocked, state == model.BoltNightLock); err != nil {
		return err
	}
	if err := h.Write(ctx, model.CapOpen, state == model.BoltOpen); err != nil {
		return err
	}
	return h.Write(ctx, model.CapLockState, string(state))
}

func (r *Reconciler) fireBoltTriggers(ctx context.Context, u update) {
	if u.keyName != "" {
		r.fire(ctx, model.Trigger{
			Card:   model.CardKeyState,
			Tokens: map[string]any{"key": u.keyName, "bolt_state": string(u.bolt)},
			State:  map[string]any{"key": u.keyName, "bolt_state": string(u.bolt)},
		})
	}
	if u.bolt == model.BoltOpen {
		r.fire(ctx, model.Trigger{Card: model.CardOpened})
	}
}

func (r *Reconciler) applyFeatures(ctx context.Context, u update) error {
	h := r.handle
	caps := h.Capabilities()
	for _, feature := range model.Features {
		active, _, ok := caps.Representation(feature)
		if !ok {
			continue
		}
		next := u.features[feature]
		last, known := h.BoolValue(active)
		if known && last == next {
			continue
		}
		for _, name := range []string{feature.ToggleCapability(), feature.SensorCapability()} {
			if err := h.Write(ctx, name, next); err != nil {
				return err
			}
		}
		if u.init || !known {
			continue
		}
		r.fire(ctx, model.Trigger{
			Card:   feature.ChangedCard(),
			Tokens: map[string]any{string(feature): next},
			State:  map[string]any{"enabled": next},
		})
	}
	return nil
}

func (r *Reconciler) fire(ctx context.Context, trigger model.Trigger) {
	if r.handle.Gone() {
		return
	}
	trigger.DeviceID = r.handle.ID()
	if err := r.triggers.Fire(ctx, trigger); err != nil {
		r.logger.Warn("trigger failed", "card", trigger.Card, "error", err)
	}
}
