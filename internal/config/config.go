// Package config loads runtime configuration from the environment with an
// optional YAML overlay selected by OUTLIER_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"outlier-monitor/internal/cluster"
	"outlier-monitor/internal/detect"
	"outlier-monitor/internal/dtapi"
)

// Config holds all runtime settings. Credentials come from the environment
// only; everything else may also be set in the YAML overlay.
type Config struct {
	BaseURL  string
	TokenURL string

	KeyID  string
	Secret string
	Email  string

	SensorLabel string

	Window       time.Duration
	Timestep     time.Duration
	Retention    time.Duration
	ResampleStep time.Duration

	EpsilonModifier float64
	MinClusterSize  int
	EpsilonFloor    float64

	MaxReconnects int

	DatabaseURL string
	HTTPAddr    string

	WebhookURL    string
	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string
	AlertCooldown time.Duration
	AlertTemplate string
	ReportDir     string
	LivePlotPath  string
}

// overlay mirrors Config in YAML form. Durations are strings in
// time.ParseDuration syntax; absent keys leave the env value in place.
type overlay struct {
	BaseURL  *string `yaml:"base_url"`
	TokenURL *string `yaml:"token_url"`

	SensorLabel *string `yaml:"sensor_label"`

	Window       *string `yaml:"window"`
	Timestep     *string `yaml:"timestep"`
	Retention    *string `yaml:"retention"`
	ResampleStep *string `yaml:"resample_step"`

	EpsilonModifier *float64 `yaml:"epsilon_modifier"`
	MinClusterSize  *int     `yaml:"min_cluster_size"`
	EpsilonFloor    *float64 `yaml:"epsilon_floor"`

	MaxReconnects *int `yaml:"max_reconnects"`

	DatabaseURL *string `yaml:"database_url"`
	HTTPAddr    *string `yaml:"http_addr"`

	WebhookURL    *string `yaml:"webhook_url"`
	MQTTBrokerURL *string `yaml:"mqtt_broker_url"`
	MQTTTopic     *string `yaml:"mqtt_topic"`
	MQTTClientID  *string `yaml:"mqtt_client_id"`
	AlertCooldown *string `yaml:"alert_cooldown"`
	AlertTemplate *string `yaml:"alert_template"`
	ReportDir     *string `yaml:"report_dir"`
	LivePlotPath  *string `yaml:"live_plot_path"`
}

// Load reads configuration from the environment, then overlays the YAML
// file named by OUTLIER_CONFIG when present.
func Load() (Config, error) {
	cfg := Config{
		BaseURL:         getenvDefault("DT_API_URL", dtapi.DefaultBaseURL),
		TokenURL:        getenvDefault("DT_TOKEN_URL", dtapi.DefaultTokenURL),
		KeyID:           os.Getenv("DT_SERVICE_ACCOUNT_KEY_ID"),
		Secret:          os.Getenv("DT_SERVICE_ACCOUNT_SECRET"),
		Email:           os.Getenv("DT_SERVICE_ACCOUNT_EMAIL"),
		SensorLabel:     getenvDefault("SENSOR_LABEL", detect.DefaultSensorLabel),
		Window:          getenvDuration("WINDOW", 3*time.Hour),
		Timestep:        getenvDuration("TIMESTEP", time.Hour),
		Retention:       getenvDuration("RETENTION", 24*time.Hour),
		ResampleStep:    getenvDuration("RESAMPLE_STEP", 15*time.Minute),
		EpsilonModifier: getenvFloatDefault("EPSILON_MODIFIER", cluster.DefaultEpsilonModifier),
		MinClusterSize:  getenvIntDefault("MIN_CLUSTER_SIZE", cluster.DefaultMinClusterSize),
		EpsilonFloor:    getenvFloatDefault("EPSILON_FLOOR", cluster.DefaultEpsilonFloor),
		MaxReconnects:   getenvIntDefault("STREAM_MAX_RECONNECTS", 5),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		WebhookURL:      os.Getenv("ALERT_WEBHOOK_URL"),
		MQTTBrokerURL:   os.Getenv("MQTT_BROKER_URL"),
		MQTTTopic:       getenvDefault("MQTT_TOPIC", "outlier-monitor/alerts"),
		MQTTClientID:    getenvDefault("MQTT_CLIENT_ID", "outlier-monitor"),
		AlertCooldown:   getenvDuration("ALERT_COOLDOWN", 30*time.Minute),
		AlertTemplate:   os.Getenv("ALERT_TEMPLATE"),
		ReportDir:       getenvDefault("REPORT_DIR", "var/reports"),
	}
	cfg.LivePlotPath = getenvDefault("LIVE_PLOT_PATH", cfg.ReportDir+"/live.png")

	if path := os.Getenv("OUTLIER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var file overlay
		if err := yaml.Unmarshal(data, &file); err != nil {
			return cfg, err
		}
		if err := file.apply(&cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.KeyID == "" || cfg.Secret == "" {
		return cfg, errors.New("config: DT_SERVICE_ACCOUNT_KEY_ID and DT_SERVICE_ACCOUNT_SECRET are required")
	}
	if cfg.Retention < cfg.Window {
		cfg.Retention = cfg.Window
	}
	return cfg, nil
}

func (o overlay) apply(cfg *Config) error {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&cfg.BaseURL, o.BaseURL)
	setString(&cfg.TokenURL, o.TokenURL)
	setString(&cfg.SensorLabel, o.SensorLabel)
	setString(&cfg.DatabaseURL, o.DatabaseURL)
	setString(&cfg.HTTPAddr, o.HTTPAddr)
	setString(&cfg.WebhookURL, o.WebhookURL)
	setString(&cfg.MQTTBrokerURL, o.MQTTBrokerURL)
	setString(&cfg.MQTTTopic, o.MQTTTopic)
	setString(&cfg.MQTTClientID, o.MQTTClientID)
	setString(&cfg.AlertTemplate, o.AlertTemplate)
	setString(&cfg.ReportDir, o.ReportDir)
	setString(&cfg.LivePlotPath, o.LivePlotPath)

	if o.EpsilonModifier != nil {
		cfg.EpsilonModifier = *o.EpsilonModifier
	}
	if o.EpsilonFloor != nil {
		cfg.EpsilonFloor = *o.EpsilonFloor
	}
	if o.MinClusterSize != nil {
		cfg.MinClusterSize = *o.MinClusterSize
	}
	if o.MaxReconnects != nil {
		cfg.MaxReconnects = *o.MaxReconnects
	}

	durations := []struct {
		key string
		dst *time.Duration
		src *string
	}{
		{"window", &cfg.Window, o.Window},
		{"timestep", &cfg.Timestep, o.Timestep},
		{"retention", &cfg.Retention, o.Retention},
		{"resample_step", &cfg.ResampleStep, o.ResampleStep},
		{"alert_cooldown", &cfg.AlertCooldown, o.AlertCooldown},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("config: invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
