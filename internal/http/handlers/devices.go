package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/micro-ha/loqed-bridge/addon/internal/device"
	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

// AttachInput is the payload of POST /api/devices.
type AttachInput struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Variant  model.Variant  `json:"variant"`
	Settings map[string]any `json:"settings"`
}

// ListDevices returns every attached device.
func (a *API) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := a.registry.List()
	items := make([]model.DeviceView, 0, len(devices))
	for _, dev := range devices {
		items = append(items, dev.View(r.Context()))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetDevice returns one attached device.
func (a *API) GetDevice(w http.ResponseWriter, r *http.Request, id string) {
	dev, ok := a.lookup(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev.View(r.Context()))
}

// AttachDevice pairs a lock and brings it online.
func (a *API) AttachDevice(w http.ResponseWriter, r *http.Request) {
	var payload AttachInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if strings.TrimSpace(payload.ID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "id is required")
		return
	}
	dev, err := a.manager.Attach(r.Context(), model.DeviceRecord{
		ID:       payload.ID,
		Name:     payload.Name,
		Variant:  payload.Variant,
		Settings: payload.Settings,
	})
	if err != nil {
		a.writeFailure(w, "attach_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, dev.View(r.Context()))
}

// DetachDevice removes a device and its remote subscription.
func (a *API) DetachDevice(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.manager.Detach(r.Context(), id); err != nil {
		a.writeFailure(w, "detach_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// PatchSettings merges settings and reconfigures the device.
func (a *API) PatchSettings(w http.ResponseWriter, r *http.Request, id string) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil || patch == nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	view, err := a.manager.UpdateSettings(r.Context(), id, patch)
	if err != nil {
		a.writeFailure(w, "settings_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListPairable returns remote locks that are not attached yet.
func (a *API) ListPairable(w http.ResponseWriter, r *http.Request) {
	locks, err := a.manager.ListPairable(r.Context())
	if err != nil {
		a.writeFailure(w, "pairable_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": locks})
}

// RefreshDevice polls one device synchronously.
func (a *API) RefreshDevice(w http.ResponseWriter, r *http.Request, id string) {
	dev, ok := a.lookup(w, id)
	if !ok {
		return
	}
	refresher, ok := dev.(device.Refresher)
	if !ok {
		a.writeFailure(w, "refresh_failed", device.ErrNotSupported)
		return
	}
	if err := refresher.Refresh(r.Context()); err != nil {
		a.writeFailure(w, "refresh_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, dev.View(r.Context()))
}
