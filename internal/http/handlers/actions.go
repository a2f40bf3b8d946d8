package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/micro-ha/loqed-bridge/addon/internal/device"
	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

const featureActionPrefix = "set_"

type actionInput struct {
	Value *bool `json:"value"`
}

// RunAction executes one device action: locked, open or set_<feature>.
func (a *API) RunAction(w http.ResponseWriter, r *http.Request, id string, action string) {
	dev, ok := a.lookup(w, id)
	if !ok {
		return
	}
	var payload actionInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}

	var err error
	switch {
	case action == "open":
		err = dev.SetBoltState(r.Context(), model.BoltOpen)
	case action == model.CapLocked:
		if payload.Value == nil {
			writeError(w, http.StatusBadRequest, "invalid_payload", "value is required")
			return
		}
		state := model.BoltDayLock
		if *payload.Value {
			state = model.BoltNightLock
		}
		err = dev.SetBoltState(r.Context(), state)
	case strings.HasPrefix(action, featureActionPrefix):
		err = a.setFeature(r, dev, strings.TrimPrefix(action, featureActionPrefix), payload.Value)
	default:
		writeError(w, http.StatusNotFound, "unknown_action", fmt.Sprintf("Unknown action %q", action))
		return
	}
	if err != nil {
		if errors.Is(err, errMissingValue) || errors.Is(err, errUnknownFeature) {
			writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
			return
		}
		a.writeFailure(w, "action_failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

var (
	errMissingValue   = errors.New("value is required")
	errUnknownFeature = errors.New("unknown feature")
)

func (a *API) setFeature(r *http.Request, dev device.Lifecycle, name string, value *bool) error {
	feature, ok := model.ParseFeature(name)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownFeature, name)
	}
	if value == nil {
		return errMissingValue
	}
	setter, ok := dev.(device.FeatureSetter)
	if !ok {
		return device.ErrNotSupported
	}
	return setter.SetFeature(r.Context(), feature, *value)
}

// ListKeys autocompletes key names by administrator name.
func (a *API) ListKeys(w http.ResponseWriter, r *http.Request, id string) {
	dev, ok := a.lookup(w, id)
	if !ok {
		return
	}
	lister, ok := dev.(device.KeyLister)
	if !ok {
		a.writeFailure(w, "keys_failed", device.ErrNotSupported)
		return
	}
	keys, err := lister.ListKeys(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		a.writeFailure(w, "keys_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}
