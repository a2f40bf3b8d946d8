package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
	"github.com/micro-ha/loqed-bridge/addon/internal/webhook"
)

const maxWebhookBody = 64 << 10

// Webhook accepts current-API push events.
func (a *API) Webhook(w http.ResponseWriter, r *http.Request) {
	a.receive(w, r, model.VariantCurrent)
}

// LegacyWebhook accepts pushes for locks paired through the legacy flow.
func (a *API) LegacyWebhook(w http.ResponseWriter, r *http.Request) {
	a.receive(w, r, model.VariantLegacy)
}

// receive always acknowledges a readable body; routing problems are the
// bridge's concern, not the sender's.
func (a *API) receive(w http.ResponseWriter, r *http.Request, variant model.Variant) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable_body", "Request body could not be read")
		return
	}
	if err := a.webhooks.Dispatch(r.Context(), raw, variant); err != nil &&
		!errors.Is(err, webhook.ErrMalformedEvent) &&
		!errors.Is(err, webhook.ErrUnmatchedDevice) &&
		!errors.Is(err, webhook.ErrSelfOrigin) {
		a.logger.Warn("webhook dispatch failed", "variant", variant, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
