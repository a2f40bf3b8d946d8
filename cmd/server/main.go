package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/micro-ha/loqed-bridge/addon/internal/config"
	"github.com/micro-ha/loqed-bridge/addon/internal/device"
	"github.com/micro-ha/loqed-bridge/addon/internal/flow"
	httpapi "github.com/micro-ha/loqed-bridge/addon/internal/http"
	"github.com/micro-ha/loqed-bridge/addon/internal/http/handlers"
	"github.com/micro-ha/loqed-bridge/addon/internal/logging"
	"github.com/micro-ha/loqed-bridge/addon/internal/loqed"
	"github.com/micro-ha/loqed-bridge/addon/internal/poller"
	"github.com/micro-ha/loqed-bridge/addon/internal/publish"
	"github.com/micro-ha/loqed-bridge/addon/internal/storage"
	"github.com/micro-ha/loqed-bridge/addon/internal/webhook"
)

const (
	recentEventsPerDevice = 50
	shutdownTimeout       = 15 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Default().Error("server terminated with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer repo.Close()

	if cfg.APIToken == "" {
		logger.Warn("LOQED_API_TOKEN is empty; current-API locks will fail to poll")
	}
	gateway := loqed.NewClient(loqed.Options{
		BaseURL:    cfg.APIURL,
		WebhookURL: cfg.WebhookURL,
		Tokens:     loqed.StaticToken(cfg.APIToken),
		Logger:     logger,
	})
	legacy := loqed.NewLegacyClient(cfg.LegacyAPIURL, nil, logger)

	recorder := flow.NewRecorder(recentEventsPerDevice)
	sinks := []flow.Sink{recorder}
	var statePublishers []device.StatePublisher

	if cfg.MQTT.Enabled() {
		mqttClient, err := publish.ConnectMQTT(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("mqtt disabled; connection failed", "err", err)
		} else {
			defer mqttClient.Close()
			mqttEvents := flow.NewAsyncSink(publish.NewMQTTEvents(mqttClient, mqttClient.Topics()), flow.DefaultSinkBuffer, flow.DefaultSinkTimeout, logger)
			defer mqttEvents.Close()
			sinks = append(sinks, mqttEvents)
			statePublishers = append(statePublishers, publish.NewMQTTState(mqttClient, mqttClient.Topics(), logger))
		}
	}
	if cfg.HA.Enabled() {
		hass := publish.NewHassEvents(cfg.HA.BaseURL, cfg.HA.Token, logger)
		defer hass.Close()
		hassEvents := flow.NewAsyncSink(hass, flow.DefaultSinkBuffer, flow.DefaultSinkTimeout, logger)
		defer hassEvents.Close()
		sinks = append(sinks, hassEvents)
	} else {
		logger.Info("SUPERVISOR_TOKEN is empty; Home Assistant events disabled")
	}
	if cfg.InfluxDB.Enabled() {
		telemetry, err := publish.ConnectInflux(ctx, cfg.InfluxDB, logger)
		if err != nil {
			logger.Warn("influx telemetry disabled", "err", err)
		} else {
			defer telemetry.Close()
			statePublishers = append(statePublishers, telemetry)
		}
	}

	dispatcher := flow.NewDispatcher(repo, logger, sinks...)
	scheduler := poller.New(cfg.PollInterval, logger)

	registry := device.NewRegistry()
	manager := device.NewManager(device.Deps{
		Store:     repo,
		Gateway:   gateway,
		Legacy:    legacy,
		Scheduler: scheduler,
		Triggers:  dispatcher,
		Publisher: publish.NewStateFanout(statePublishers...),
		Logger:    logger,
	}, registry)
	defer manager.Close()

	if err := manager.Restore(ctx); err != nil {
		logger.Warn("some devices failed to restore", "err", err)
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn("poll jobs still running at shutdown", "err", err)
		}
	}()

	router := webhook.NewRouter(registry, webhook.SelfOriginPolicy{KeyName: cfg.SelfOriginKeyName}, logger)
	api := handlers.New(handlers.Options{
		Webhooks: router,
		Manager:  manager,
		Registry: registry,
		Rules:    flow.NewRules(repo),
		Events:   recorder,
		Poller:   scheduler,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(api),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting",
		"addr", httpServer.Addr,
		"devices", len(registry.List()),
		"poll_interval", scheduler.Interval().String(),
	)
	if err := httpapi.RunServer(ctx, httpServer); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
