package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Sphere Bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	Push     PushConfig     `yaml:"push"`
	Radio    RadioConfig    `yaml:"radio"`
	Sync     SyncConfig     `yaml:"sync"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CloudConfig contains the remote cloud account and endpoint.
type CloudConfig struct {
	BaseURL string `yaml:"base_url"`

	// Email and Password are the account credentials. Prefer the
	// SPHEREBRIDGE_CLOUD_EMAIL / SPHEREBRIDGE_CLOUD_PASSWORD environment variables.
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// RequestTimeout bounds every REST call (seconds).
	RequestTimeout int `yaml:"request_timeout"`
}

// PushConfig contains push-stream connection settings.
type PushConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`

	// ReconnectInitialDelay and ReconnectMaxDelay bound the backoff (seconds).
	ReconnectInitialDelay int `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     int `yaml:"reconnect_max_delay"`
}

// RadioConfig contains settings for the short-range radio fallback.
type RadioConfig struct {
	Enabled bool `yaml:"enabled"`

	// Protocol is the bridge protocol segment used in MQTT request topics.
	// Default: "ble"
	Protocol string `yaml:"protocol"`

	// DiscoveryTimeout bounds advertisement discovery (seconds). Default: 10
	DiscoveryTimeout int `yaml:"discovery_timeout"`

	// RequestTimeout bounds every other gateway request (seconds). Default: 5
	RequestTimeout int `yaml:"request_timeout"`
}

// SyncConfig contains polling intervals.
type SyncConfig struct {
	// FullInterval is the period of the full mirror+map pass (seconds).
	FullInterval int `yaml:"full_interval"`

	// PresenceInterval is the period of the presence poll (seconds).
	PresenceInterval int `yaml:"presence_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SPHEREBRIDGE_SECTION_KEY
// For example: SPHEREBRIDGE_DATABASE_PATH, SPHEREBRIDGE_CLOUD_EMAIL
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL:        "https://cloud.crownstone.rocks/api",
			RequestTimeout: 15,
		},
		Push: PushConfig{
			Enabled:               true,
			URL:                   "wss://events.crownstone.rocks/stream",
			ReconnectInitialDelay: 1,
			ReconnectMaxDelay:     60,
		},
		Radio: RadioConfig{
			Enabled:          true,
			Protocol:         "ble",
			DiscoveryTimeout: 10,
			RequestTimeout:   5,
		},
		Sync: SyncConfig{
			FullInterval:     600,
			PresenceInterval: 60,
		},
		Database: DatabaseConfig{
			Path:        "./data/spherebridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "spherebridge",
			},
			QoS:         1,
			TopicPrefix: "spherebridge",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SPHEREBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud credentials
	if v := os.Getenv("SPHEREBRIDGE_CLOUD_EMAIL"); v != "" {
		cfg.Cloud.Email = v
	}
	if v := os.Getenv("SPHEREBRIDGE_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}

	// Database
	if v := os.Getenv("SPHEREBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SPHEREBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SPHEREBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SPHEREBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SPHEREBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SPHEREBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// Missing cloud credentials are not an error: the bridge starts idle and
// waits for credentials through the API.
func (c *Config) Validate() error {
	var errs []string

	if _, err := url.ParseRequestURI(c.Cloud.BaseURL); err != nil || c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url must be an absolute URL")
	}
	if c.Cloud.RequestTimeout <= 0 {
		errs = append(errs, "cloud.request_timeout must be positive")
	}

	if c.Push.Enabled && c.Push.URL == "" {
		errs = append(errs, "push.url is required when push is enabled")
	}

	if c.Radio.Enabled && c.Radio.DiscoveryTimeout <= 0 {
		errs = append(errs, "radio.discovery_timeout must be positive")
	}

	if c.Sync.FullInterval <= 0 {
		errs = append(errs, "sync.full_interval must be positive")
	}
	if c.Sync.PresenceInterval <= 0 {
		errs = append(errs, "sync.presence_interval must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HasCredentials reports whether both cloud credentials are configured.
func (c *Config) HasCredentials() bool {
	return c.Cloud.Email != "" && c.Cloud.Password != ""
}

// GetFullInterval returns the full mirror interval as a Duration.
func (c *Config) GetFullInterval() time.Duration {
	return time.Duration(c.Sync.FullInterval) * time.Second
}

// GetPresenceInterval returns the presence poll interval as a Duration.
func (c *Config) GetPresenceInterval() time.Duration {
	return time.Duration(c.Sync.PresenceInterval) * time.Second
}

// GetDiscoveryTimeout returns the radio discovery bound as a Duration.
func (c *Config) GetDiscoveryTimeout() time.Duration {
	return time.Duration(c.Radio.DiscoveryTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
