package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// options mirrors the addon options file. JSON options files are valid YAML,
// so one decoder serves both.
type options struct {
	HTTPAddr          string `yaml:"http_addr"`
	DBPath            string `yaml:"db_path"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
	PollInterval      string `yaml:"poll_interval"`
	APIURL            string `yaml:"api_url"`
	APIToken          string `yaml:"api_token"`
	WebhookURL        string `yaml:"webhook_url"`
	SelfOriginKeyName string `yaml:"self_origin_key_name"`
	LegacyAPIURL      string `yaml:"legacy_api_url"`
	MQTTBroker        string `yaml:"mqtt_broker"`
	MQTTUsername      string `yaml:"mqtt_username"`
	MQTTPassword      string `yaml:"mqtt_password"`
	MQTTTopicPrefix   string `yaml:"mqtt_topic_prefix"`
	HABaseURL         string `yaml:"ha_base_url"`
	SupervisorToken   string `yaml:"supervisor_token"`
	InfluxURL         string `yaml:"influx_url"`
	InfluxToken       string `yaml:"influx_token"`
	InfluxOrg         string `yaml:"influx_org"`
	InfluxBucket      string `yaml:"influx_bucket"`
}

func readOptions(path string) (options, error) {
	if strings.TrimSpace(path) == "" {
		return options{}, nil
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return options{}, nil
	}
	if err != nil {
		return options{}, fmt.Errorf("read options file: %w", err)
	}
	var out options
	if err := yaml.Unmarshal(body, &out); err != nil {
		return options{}, fmt.Errorf("decode options file %s: %w", path, err)
	}
	return out, nil
}

func (o options) apply(cfg *Config) {
	setString(&cfg.HTTPAddr, o.HTTPAddr)
	setString(&cfg.DBPath, o.DBPath)
	if strings.TrimSpace(o.LogLevel) != "" {
		cfg.LogLevel = parseLogLevel(o.LogLevel)
	}
	setString(&cfg.LogFormat, o.LogFormat)
	if strings.TrimSpace(o.PollInterval) != "" {
		cfg.PollInterval = durationOr(o.PollInterval, cfg.PollInterval)
	}
	setString(&cfg.APIURL, o.APIURL)
	setString(&cfg.APIToken, o.APIToken)
	setString(&cfg.WebhookURL, o.WebhookURL)
	setString(&cfg.SelfOriginKeyName, o.SelfOriginKeyName)
	setString(&cfg.LegacyAPIURL, o.LegacyAPIURL)
	setString(&cfg.MQTT.Broker, o.MQTTBroker)
	setString(&cfg.MQTT.Username, o.MQTTUsername)
	setString(&cfg.MQTT.Password, o.MQTTPassword)
	setString(&cfg.MQTT.TopicPrefix, o.MQTTTopicPrefix)
	setString(&cfg.HA.BaseURL, o.HABaseURL)
	setString(&cfg.HA.Token, o.SupervisorToken)
	setString(&cfg.InfluxDB.URL, o.InfluxURL)
	setString(&cfg.InfluxDB.Token, o.InfluxToken)
	setString(&cfg.InfluxDB.Org, o.InfluxOrg)
	setString(&cfg.InfluxDB.Bucket, o.InfluxBucket)
}

func setString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}
