package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultHTTPAddr     = ":8099"
	defaultDBPath       = "/data/loqed_bridge.db"
	defaultOptionsPath  = "/data/options.json"
	defaultAPIURL       = "https://integrations.production.loqed.com/api"
	defaultLegacyAPIURL = "https://production.loqed.com:8080/v1"
	defaultPollInterval = 5 * time.Minute
	defaultHABaseURL    = "http://supervisor/core"
	defaultTopicPrefix  = "loqed"
)

// Config stores runtime settings loaded from environment variables and the
// addon options file.
type Config struct {
	HTTPAddr     string
	DBPath       string
	OptionsPath  string
	LogLevel     slog.Level
	LogFormat    string
	PollInterval time.Duration

	APIURL            string
	APIToken          string
	WebhookURL        string
	SelfOriginKeyName string
	LegacyAPIURL      string

	MQTT     MQTTConfig
	HA       HAConfig
	InfluxDB InfluxDBConfig
}

// MQTTConfig holds broker settings for event and state publishing.
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// HAConfig holds Home Assistant websocket API access.
type HAConfig struct {
	BaseURL string
	Token   string
}

// Enabled reports whether HA events can be fired.
func (c HAConfig) Enabled() bool {
	return c.Token != ""
}

// InfluxDBConfig holds optional telemetry settings.
type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether telemetry writes are configured.
func (c InfluxDBConfig) Enabled() bool {
	return c.URL != "" && c.Bucket != ""
}

// Load builds Config from environment variables using stable defaults and
// then applies the options file on top.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:          getenv("HTTP_ADDR", defaultHTTPAddr),
		DBPath:            getenv("DB_PATH", defaultDBPath),
		OptionsPath:       getenv("OPTIONS_PATH", defaultOptionsPath),
		LogLevel:          parseLogLevel(getenv("LOG_LEVEL", "info")),
		LogFormat:         getenv("LOG_FORMAT", "json"),
		PollInterval:      parseDuration("POLL_INTERVAL", defaultPollInterval),
		APIURL:            getenv("LOQED_API_URL", defaultAPIURL),
		APIToken:          getenv("LOQED_API_TOKEN", ""),
		WebhookURL:        getenv("WEBHOOK_URL", ""),
		SelfOriginKeyName: getenv("SELF_ORIGIN_KEY_NAME", ""),
		LegacyAPIURL:      getenv("LEGACY_API_URL", defaultLegacyAPIURL),
		MQTT: MQTTConfig{
			Broker:      getenv("MQTT_BROKER", ""),
			Username:    getenv("MQTT_USERNAME", ""),
			Password:    getenv("MQTT_PASSWORD", ""),
			ClientID:    getenv("MQTT_CLIENT_ID", "loqed-bridge"),
			TopicPrefix: getenv("MQTT_TOPIC_PREFIX", defaultTopicPrefix),
		},
		HA: HAConfig{
			BaseURL: getenv("HA_BASE_URL", defaultHABaseURL),
			Token:   getenv("SUPERVISOR_TOKEN", ""),
		},
		InfluxDB: InfluxDBConfig{
			URL:    getenv("INFLUX_URL", ""),
			Token:  getenv("INFLUX_TOKEN", ""),
			Org:    getenv("INFLUX_ORG", ""),
			Bucket: getenv("INFLUX_BUCKET", ""),
		},
	}

	opts, err := readOptions(cfg.OptionsPath)
	if err != nil {
		return cfg, err
	}
	opts.apply(&cfg)
	return cfg, nil
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return durationOr(raw, fallback)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
