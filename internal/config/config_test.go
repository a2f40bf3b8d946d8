package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadUsesDefaultsWhenOptionsFileMissing(t *testing.T) {
	t.Setenv("OPTIONS_PATH", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("LOQED_API_TOKEN", "env-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, defaultHTTPAddr)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Fatalf("PollInterval = %v, want 5m", cfg.PollInterval)
	}
	if cfg.APIToken != "env-token" {
		t.Fatalf("APIToken = %q, want env-token", cfg.APIToken)
	}
	if cfg.MQTT.Enabled() {
		t.Fatalf("MQTT should be disabled without broker")
	}
}

func TestLoadAppliesJSONOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.json")
	if err := os.WriteFile(path, []byte(`{
		"api_token": "file-token",
		"webhook_url": "https://hooks.example/loqed",
		"poll_interval": "90s",
		"log_level": "debug",
		"self_origin_key_name": "Homey",
		"mqtt_broker": "tcp://broker:1883"
	}`), 0o644); err != nil {
		t.Fatalf("write options file: %v", err)
	}
	t.Setenv("OPTIONS_PATH", path)
	t.Setenv("LOQED_API_TOKEN", "env-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIToken != "file-token" {
		t.Fatalf("APIToken = %q, want file-token", cfg.APIToken)
	}
	if cfg.PollInterval != 90*time.Second {
		t.Fatalf("PollInterval = %v, want 90s", cfg.PollInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.SelfOriginKeyName != "Homey" {
		t.Fatalf("SelfOriginKeyName = %q, want Homey", cfg.SelfOriginKeyName)
	}
	if !cfg.MQTT.Enabled() || cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Fatalf("MQTT broker = %q", cfg.MQTT.Broker)
	}
}

func TestLoadAppliesYAMLOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	if err := os.WriteFile(path, []byte("influx_url: http://influx:8086\ninflux_bucket: locks\npoll_interval: nonsense\n"), 0o644); err != nil {
		t.Fatalf("write options file: %v", err)
	}
	t.Setenv("OPTIONS_PATH", path)
	t.Setenv("POLL_INTERVAL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.InfluxDB.Enabled() {
		t.Fatalf("InfluxDB should be enabled")
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Fatalf("invalid option must keep env interval, got %v", cfg.PollInterval)
	}
}

func TestLoadReturnsErrorForInvalidOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write options file: %v", err)
	}
	t.Setenv("OPTIONS_PATH", path)

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want non-nil")
	}
}
