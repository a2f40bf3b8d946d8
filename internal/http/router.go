package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-ha/loqed-bridge/addon/internal/http/handlers"
)

// NewRouter builds the routing tree for webhook ingress and the device API.
func NewRouter(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON(api))
	r.Use(middleware.Timeout(20 * time.Second))
	r.Use(StripIngressPrefix)
	r.Use(RequestLogger(api))

	r.Get("/healthz", api.Health)
	r.Post("/webhook", api.Webhook)
	r.Post("/webhook/legacy", api.LegacyWebhook)

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Get("/cards", api.ListCards)
		apiRouter.Get("/pairable", api.ListPairable)
		apiRouter.Post("/refresh", api.Refresh)

		apiRouter.Get("/devices", api.ListDevices)
		apiRouter.Post("/devices", api.AttachDevice)
		apiRouter.Get("/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
			api.GetDevice(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Delete("/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
			api.DetachDevice(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Patch("/devices/{id}/settings", func(w http.ResponseWriter, r *http.Request) {
			api.PatchSettings(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Post("/devices/{id}/refresh", func(w http.ResponseWriter, r *http.Request) {
			api.RefreshDevice(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Post("/devices/{id}/actions/{action}", func(w http.ResponseWriter, r *http.Request) {
			api.RunAction(w, r, chi.URLParam(r, "id"), chi.URLParam(r, "action"))
		})
		apiRouter.Get("/devices/{id}/keys", func(w http.ResponseWriter, r *http.Request) {
			api.ListKeys(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Get("/devices/{id}/events", func(w http.ResponseWriter, r *http.Request) {
			api.RecentEvents(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Get("/devices/{id}/rules", func(w http.ResponseWriter, r *http.Request) {
			api.ListRules(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Post("/devices/{id}/rules", func(w http.ResponseWriter, r *http.Request) {
			api.CreateRule(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Delete("/rules/{ruleID}", func(w http.ResponseWriter, r *http.Request) {
			api.DeleteRule(w, r, chi.URLParam(r, "ruleID"))
		})
	})
	return r
}

// RunServer starts and gracefully stops HTTP server with context cancellation.
func RunServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
