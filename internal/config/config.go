package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is used when no config file is given. It may be absent.
const DefaultPath = "configs/config.yaml"

// Config represents the complete application configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Buffers  BuffersConfig  `mapstructure:"buffers"`
	Cue      CueConfig      `mapstructure:"cue"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BackendConfig holds detection backend API configuration
type BackendConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	StreamPath      string        `mapstructure:"stream_path"`
	Timeout         time.Duration `mapstructure:"timeout"`
	StatusTimeout   time.Duration `mapstructure:"status_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	AlertsLimit     int           `mapstructure:"alerts_limit"`
	ExplainArtifact string        `mapstructure:"explain_artifact"`
}

// StreamConfig holds push channel configuration
type StreamConfig struct {
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadLimit        int64         `mapstructure:"read_limit"`
}

// PollerConfig holds snapshot polling configuration
type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// BuffersConfig holds display buffer sizes
type BuffersConfig struct {
	AlertCapacity    int `mapstructure:"alert_capacity"`
	TimelineCapacity int `mapstructure:"timeline_capacity"`
	RiskWindow       int `mapstructure:"risk_window"`
}

// CueConfig holds critical alert notification configuration
type CueConfig struct {
	Bell              bool          `mapstructure:"bell"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	RatePerMinute     int           `mapstructure:"rate_per_minute"`
	JournalPath       string        `mapstructure:"journal_path"`
	JournalMaxRecords int           `mapstructure:"journal_max_records"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// NATSConfig holds NATS publishing configuration
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ServerConfig holds the view/metrics HTTP server configuration
type ServerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment variables.
// A missing file at DefaultPath is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// IDSWATCH_BACKEND_BASE_URL overrides backend.base_url
	v.SetEnvPrefix("IDSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !(path == DefaultPath && errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Backend defaults
	v.SetDefault("backend.base_url", "http://127.0.0.1:8000")
	v.SetDefault("backend.stream_path", "/ws/alerts")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("backend.status_timeout", "4s")
	v.SetDefault("backend.max_retries", 1) // next poll is the retry
	v.SetDefault("backend.alerts_limit", 0)
	v.SetDefault("backend.explain_artifact", "shap_feature_importance")

	// Stream defaults
	v.SetDefault("stream.reconnect_delay", "2s")
	v.SetDefault("stream.handshake_timeout", "5s")
	v.SetDefault("stream.read_limit", 1<<20)

	v.SetDefault("poller.interval", "5s")

	v.SetDefault("buffers.alert_capacity", 500)
	v.SetDefault("buffers.timeline_capacity", 30)
	v.SetDefault("buffers.risk_window", 20)

	// Cue defaults
	v.SetDefault("cue.bell", true)
	v.SetDefault("cue.cooldown", "30s")
	v.SetDefault("cue.rate_per_minute", 6)
	v.SetDefault("cue.journal_path", "./data/idswatch.db")
	v.SetDefault("cue.journal_max_records", 1000)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "idswatch.critical")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_address", ":9108")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Backend config
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute http(s) URL")
	}
	if !strings.HasPrefix(c.Backend.StreamPath, "/") {
		return fmt.Errorf("backend.stream_path must start with /")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Backend.StatusTimeout <= 0 {
		return fmt.Errorf("backend.status_timeout must be positive")
	}
	if c.Backend.MaxRetries < 1 {
		return fmt.Errorf("backend.max_retries must be at least 1")
	}
	if c.Backend.AlertsLimit < 0 {
		return fmt.Errorf("backend.alerts_limit must not be negative")
	}

	// Validate Stream config
	if c.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be positive")
	}
	if c.Stream.HandshakeTimeout <= 0 {
		return fmt.Errorf("stream.handshake_timeout must be positive")
	}
	if c.Stream.ReadLimit < 1024 {
		return fmt.Errorf("stream.read_limit must be at least 1024 bytes")
	}

	if c.Poller.Interval < 100*time.Millisecond {
		return fmt.Errorf("poller.interval must be at least 100ms")
	}

	// Validate Buffers config
	if c.Buffers.AlertCapacity < 1 {
		return fmt.Errorf("buffers.alert_capacity must be at least 1")
	}
	if c.Buffers.TimelineCapacity < 1 {
		return fmt.Errorf("buffers.timeline_capacity must be at least 1")
	}
	if c.Buffers.RiskWindow < 1 || c.Buffers.RiskWindow > c.Buffers.AlertCapacity {
		return fmt.Errorf("buffers.risk_window must be between 1 and buffers.alert_capacity")
	}

	// Validate Cue config
	if c.Cue.Cooldown < 0 {
		return fmt.Errorf("cue.cooldown must not be negative")
	}
	if c.Cue.RatePerMinute < 1 {
		return fmt.Errorf("cue.rate_per_minute must be at least 1")
	}
	if c.Cue.JournalMaxRecords < 1 {
		return fmt.Errorf("cue.journal_max_records must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if c.NATS.Subject == "" {
			return fmt.Errorf("nats.subject is required when nats is enabled")
		}
	}

	if c.Server.Enabled && c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required when server is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// StreamURL returns the websocket URL of the alert stream.
func (c *Config) StreamURL() string {
	base := strings.TrimRight(c.Backend.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.Backend.StreamPath
}
