package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/elonfeng/streamrank/internal/logging"
	"github.com/elonfeng/streamrank/pkg/provider"
	"github.com/elonfeng/streamrank/pkg/trend"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig         `yaml:"database"`
	Log       logging.Config         `yaml:"log"`
	Server    ServerConfig           `yaml:"server"`
	Schedule  ScheduleConfig         `yaml:"schedule"`
	Trending  TrendingConfig         `yaml:"trending"`
	Health    provider.CheckerConfig `yaml:"health"`
	Alerts    AlertsConfig           `yaml:"alerts"`
	Providers []provider.Provider    `yaml:"providers" validate:"dive"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

// ScheduleConfig holds cron specs for the background jobs. An empty spec
// disables the job.
type ScheduleConfig struct {
	Trending             string `yaml:"trending"`
	HealthCheck          string `yaml:"health_check"`
	UsageReset           string `yaml:"usage_reset"`
	RunTrendingOnStartup bool   `yaml:"run_trending_on_startup"`
}

// TrendingConfig configures the trending engine.
type TrendingConfig struct {
	Engine  trend.EngineOptions `yaml:"engine"`
	Formula trend.Formula       `yaml:"formula"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" validate:"required_if=Enabled true,omitempty,url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" validate:"required_if=Enabled true,omitempty,url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Secret  string `yaml:"secret"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./streamrank.db"},
		Log:      logging.Config{Level: "info", Format: "json"},
		Server:   ServerConfig{Port: 8080},
		Schedule: ScheduleConfig{
			Trending:    "0 3 * * *",
			HealthCheck: "*/5 * * * *",
			UsageReset:  "0 0 1 * *",
		},
		Trending: TrendingConfig{
			Formula: trend.DefaultFormula(),
		},
		Providers: DefaultProviders(),
	}
}

// DefaultProviders is the provider set seeded into an empty database.
func DefaultProviders() []provider.Provider {
	return []provider.Provider{
		{
			Name:        "zegocloud",
			DisplayName: "ZegoCloud",
			Enabled:     true,
			Status:      provider.StatusActive,
			Priority:    1,
			Health:      provider.Health{UptimePercent: 99.9, ErrorRatePercent: 0.1, AverageLatencyMs: 150},
			Capacity:    provider.Capacity{MaxConcurrentStreams: 1000, MonthlyMinuteLimit: 100000},
			Features: []string{
				"recording", "transcoding", "beauty", "virtualBackground",
				"screenSharing", "multiHost", "chat", "gifts",
			},
			ServerURL: "stream.zegocloud.com",
		},
		{
			Name:        "agora",
			DisplayName: "Agora",
			Enabled:     true,
			Status:      provider.StatusActive,
			Priority:    2,
			Health:      provider.Health{UptimePercent: 99.5, ErrorRatePercent: 0.3, AverageLatencyMs: 180},
			Capacity:    provider.Capacity{MaxConcurrentStreams: 500, MonthlyMinuteLimit: 50000},
			Features:    []string{"recording", "transcoding", "screenSharing", "multiHost"},
			ServerURL:   "stream.agora.io",
		},
		{
			Name:        "webrtc",
			DisplayName: "WebRTC (Self-Hosted)",
			Enabled:     false,
			Status:      provider.StatusMaintenance,
			Priority:    3,
			Health:      provider.Health{UptimePercent: 95, ErrorRatePercent: 2, AverageLatencyMs: 250},
			Capacity:    provider.Capacity{MaxConcurrentStreams: 100, MonthlyMinuteLimit: 20000},
			Features:    []string{"screenSharing"},
			ServerURL:   "localhost:8080",
		},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and provider definitions.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("invalid config: provider without name")
		}
		if seen[p.Name] {
			return fmt.Errorf("invalid config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.Status != "" && !p.Status.Valid() {
			return fmt.Errorf("invalid config: provider %s has unknown status %q", p.Name, p.Status)
		}
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STREAMRANK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STREAMRANK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STREAMRANK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STREAMRANK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("ALERT_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
	if v := os.Getenv("RUN_TRENDING_ON_STARTUP"); v != "" {
		cfg.Schedule.RunTrendingOnStartup = strings.EqualFold(v, "true") || v == "1"
	}

	// Provider credentials: ZEGOCLOUD_APP_ID, AGORA_APP_SECRET, ...
	for i := range cfg.Providers {
		prefix := strings.ToUpper(cfg.Providers[i].Name) + "_"
		if v := os.Getenv(prefix + "APP_ID"); v != "" {
			cfg.Providers[i].AppID = v
		}
		if v := os.Getenv(prefix + "APP_SECRET"); v != "" {
			cfg.Providers[i].AppSecret = v
		}
		if v := os.Getenv(prefix + "SERVER_URL"); v != "" {
			cfg.Providers[i].ServerURL = v
		}
	}
}
