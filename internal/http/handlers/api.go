package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/micro-ha/loqed-bridge/addon/internal/device"
	"github.com/micro-ha/loqed-bridge/addon/internal/flow"
	"github.com/micro-ha/loqed-bridge/addon/internal/loqed"
	"github.com/micro-ha/loqed-bridge/addon/internal/model"
	"github.com/micro-ha/loqed-bridge/addon/internal/storage"
)

// Poller triggers an immediate poll of every scheduled device.
type Poller interface {
	TriggerRefresh() int
}

// WebhookDispatcher routes raw push events to devices.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, raw []byte, variant model.Variant) error
}

// DeviceManager attaches, detaches and reconfigures devices.
type DeviceManager interface {
	Attach(ctx context.Context, rec model.DeviceRecord) (device.Lifecycle, error)
	Detach(ctx context.Context, id string) error
	UpdateSettings(ctx context.Context, id string, patch map[string]any) (model.DeviceView, error)
	ListPairable(ctx context.Context) ([]model.LockSnapshot, error)
}

// DeviceRegistry looks up attached devices.
type DeviceRegistry interface {
	Get(id string) (device.Lifecycle, bool)
	List() []device.Lifecycle
}

// RuleService manages stored automation rules.
type RuleService interface {
	Create(ctx context.Context, rule model.FlowRule) (model.FlowRule, error)
	List(ctx context.Context, deviceID string) ([]model.FlowRule, error)
	Delete(ctx context.Context, id string) error
}

// EventLog returns recently fired triggers.
type EventLog interface {
	Recent(deviceID string) []flow.Firing
}

// Options carries the handler dependencies.
type Options struct {
	Webhooks WebhookDispatcher
	Manager  DeviceManager
	Registry DeviceRegistry
	Rules    RuleService
	Events   EventLog
	Poller   Poller
	Logger   *slog.Logger
}

// API groups HTTP handlers and dependencies.
type API struct {
	webhooks WebhookDispatcher
	manager  DeviceManager
	registry DeviceRegistry
	rules    RuleService
	events   EventLog
	poller   Poller
	logger   *slog.Logger
}

// New creates HTTP handlers with explicit dependencies.
func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &API{
		webhooks: opts.Webhooks,
		manager:  opts.Manager,
		registry: opts.Registry,
		rules:    opts.Rules,
		events:   opts.Events,
		poller:   opts.Poller,
		logger:   logger,
	}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// Health reports liveness and the number of attached devices.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "devices": len(a.registry.List())})
}

// Refresh polls every scheduled device in the background.
func (a *API) Refresh(w http.ResponseWriter, _ *http.Request) {
	jobs := 0
	if a.poller != nil {
		jobs = a.poller.TriggerRefresh()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "jobs": jobs})
}

func (a *API) lookup(w http.ResponseWriter, id string) (device.Lifecycle, bool) {
	dev, ok := a.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Device not attached")
		return nil, false
	}
	return dev, true
}

// writeFailure maps domain errors onto status codes.
func (a *API) writeFailure(w http.ResponseWriter, fallbackCode string, err error) {
	status, code := http.StatusInternalServerError, fallbackCode
	switch {
	case errors.Is(err, device.ErrNotAttached), errors.Is(err, storage.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, device.ErrAlreadyAttached), errors.Is(err, storage.ErrConflict):
		status, code = http.StatusConflict, "already_attached"
	case errors.Is(err, device.ErrReadOnlyFeature):
		status, code = http.StatusConflict, "read_only_feature"
	case errors.Is(err, device.ErrUnsupportedState):
		status, code = http.StatusUnprocessableEntity, "unsupported_state"
	case errors.Is(err, device.ErrNotSupported):
		status, code = http.StatusConflict, "not_supported"
	case errors.Is(err, device.ErrLockMissing):
		status, code = http.StatusNotFound, "lock_missing"
	case errors.Is(err, flow.ErrInvalidRule):
		status, code = http.StatusBadRequest, "invalid_rule"
	case errors.Is(err, loqed.ErrNoWebhookURL):
		status, code = http.StatusConflict, "webhook_url_missing"
	case loqed.IsGatewayError(err):
		status, code = http.StatusBadGateway, "gateway_"+string(loqed.KindOf(err))
	}
	if status >= http.StatusInternalServerError {
		a.logger.Warn("request failed", "code", code, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
