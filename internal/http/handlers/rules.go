package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/micro-ha/loqed-bridge/addon/internal/flow"
	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

type ruleInput struct {
	Card string            `json:"card"`
	Args map[string]string `json:"args"`
}

// ListCards describes every trigger card.
func (a *API) ListCards(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": flow.Cards()})
}

// ListRules returns the rules stored for a device.
func (a *API) ListRules(w http.ResponseWriter, r *http.Request, id string) {
	rules, err := a.rules.List(r.Context(), id)
	if err != nil {
		a.writeFailure(w, "list_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rules})
}

// CreateRule validates and stores a rule for an attached device.
func (a *API) CreateRule(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.lookup(w, id); !ok {
		return
	}
	var payload ruleInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	rule, err := a.rules.Create(r.Context(), model.FlowRule{DeviceID: id, Card: payload.Card, Args: payload.Args})
	if err != nil {
		a.writeFailure(w, "create_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRule removes one rule.
func (a *API) DeleteRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	if err := a.rules.Delete(r.Context(), ruleID); err != nil {
		a.writeFailure(w, "delete_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// RecentEvents returns the latest trigger firings of a device, newest first.
func (a *API) RecentEvents(w http.ResponseWriter, _ *http.Request, id string) {
	items := []flow.Firing{}
	if a.events != nil {
		items = append(items, a.events.Recent(id)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
