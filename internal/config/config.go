// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Providers ProvidersConfig `mapstructure:"providers"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// BrowserConfig configures the shared headless-browser pool.
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"`
	UserAgent      string `mapstructure:"user_agent"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
	Locale         string `mapstructure:"locale"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	BackoffSeconds int    `mapstructure:"backoff_seconds"`
}

// TrackingConfig governs the polling cycle.
type TrackingConfig struct {
	PaceSeconds int    `mapstructure:"pace_seconds"`
	LogTail     int    `mapstructure:"log_tail"`
	PublicURL   string `mapstructure:"public_url"`
}

// AlertsConfig governs the alert-dispatch cycle.
type AlertsConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	LeaseMinutes  int `mapstructure:"lease_minutes"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	IntervalHours int `mapstructure:"interval_hours"`
	PaceSeconds   int `mapstructure:"pace_seconds"`
}

// WhatsAppConfig configures the WhatsApp Web messenger.
type WhatsAppConfig struct {
	SessionDir     string `mapstructure:"session_dir"`
	RatePerMinute  int    `mapstructure:"rate_per_minute"`
	SendTimeoutSec int    `mapstructure:"send_timeout_seconds"`
	Headless       bool   `mapstructure:"headless"`
}

// ProviderCredentials holds one courier's API credentials. Empty credentials
// select the scraper variant at adapter construction.
type ProviderCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// ProvidersConfig holds credentials for the API-capable couriers.
type ProvidersConfig struct {
	FedEx ProviderCredentials `mapstructure:"fedex"`
	DHL   ProviderCredentials `mapstructure:"dhl"`
}

// PubSubConfig holds metadata for delivery-event publishing. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig selects where failure artifacts (screenshots) are kept.
// GCSBucket wins when both are set; both empty disables archiving.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.max_attempts", 3)
	v.SetDefault("browser.backoff_seconds", 2)
	v.SetDefault("tracking.pace_seconds", 1)
	v.SetDefault("tracking.log_tail", 200)
	v.SetDefault("alerts.batch_size", 50)
	v.SetDefault("alerts.lease_minutes", 15)
	v.SetDefault("alerts.max_attempts", 4)
	v.SetDefault("alerts.interval_hours", 6)
	v.SetDefault("alerts.pace_seconds", 3)
	v.SetDefault("whatsapp.session_dir", ".whatsapp")
	v.SetDefault("whatsapp.rate_per_minute", 20)
	v.SetDefault("whatsapp.send_timeout_seconds", 45)
	v.SetDefault("whatsapp.headless", true)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.MaxAttempts <= 0 {
		return fmt.Errorf("browser.max_attempts must be > 0")
	}
	if c.Alerts.BatchSize <= 0 {
		return fmt.Errorf("alerts.batch_size must be > 0")
	}
	if c.Alerts.LeaseMinutes <= 0 {
		return fmt.Errorf("alerts.lease_minutes must be > 0")
	}
	if c.Alerts.MaxAttempts <= 0 {
		return fmt.Errorf("alerts.max_attempts must be > 0")
	}
	if c.Alerts.IntervalHours <= 0 {
		return fmt.Errorf("alerts.interval_hours must be > 0")
	}
	if c.WhatsApp.RatePerMinute <= 0 {
		return fmt.Errorf("whatsapp.rate_per_minute must be > 0")
	}
	return nil
}

// NavTimeout converts the configured navigation timeout to a duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// Backoff converts the configured retry backoff step to a duration.
func (c BrowserConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

// Pace converts the inter-shipment pacing delay to a duration.
func (c TrackingConfig) Pace() time.Duration {
	return time.Duration(c.PaceSeconds) * time.Second
}

// Pace converts the inter-candidate pacing delay to a duration.
func (c AlertsConfig) Pace() time.Duration {
	return time.Duration(c.PaceSeconds) * time.Second
}

// Lease converts the claim lease window to a duration.
func (c AlertsConfig) Lease() time.Duration {
	return time.Duration(c.LeaseMinutes) * time.Minute
}

// Interval converts the alert cadence to a duration.
func (c AlertsConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// SendTimeout converts the per-message deadline to a duration.
func (c WhatsAppConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}
