package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Hearthwatch Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Registry  RegistryConfig  `yaml:"registry"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig contains service-level identity settings.
type ServiceConfig struct {
	ID string `yaml:"id"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long event log entries are kept before the
	// janitor purges them. Zero disables purging.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// RegistryConfig contains settings for the external device registry collaborator.
type RegistryConfig struct {
	// BaseURL is the root URL of the devices service (e.g. http://localhost:3002).
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each registry HTTP call, in seconds.
	Timeout int `yaml:"timeout"`

	// CacheTTL is how long a cached device snapshot stays fresh, in seconds.
	CacheTTL int `yaml:"cache_ttl"`

	// AllowList holds device IDs trusted during a registry outage (fail-open).
	AllowList []string `yaml:"allow_list"`

	// ValidationDisabled bypasses device validation entirely.
	// Intended for test and development environments only.
	ValidationDisabled bool `yaml:"validation_disabled"`
}

// AlertingConfig contains settings for the alerting collaborator.
type AlertingConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"`
}

// PipelineConfig contains ingestion pipeline tuning settings.
type PipelineConfig struct {
	// QueueSize is the per-device inbound message queue capacity.
	QueueSize int `yaml:"queue_size"`

	// DrainTimeout caps shutdown drain time, in seconds.
	DrainTimeout int `yaml:"drain_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, parses, and validates configuration from the given YAML file.
//
// Values are resolved in order of precedence (highest wins):
//  1. Environment variables (HEARTHWATCH_SECTION_KEY)
//  2. YAML file contents
//  3. Built-in defaults
//
// Returns:
//   - *Config: Validated configuration
//   - error: If the file cannot be read, parsed, or fails validation
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID: "hearthwatch-core",
		},
		Database: DatabaseConfig{
			Path:          "./data/hearthwatch.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hearthwatch-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Registry: RegistryConfig{
			BaseURL:  "http://localhost:3002",
			Timeout:  5,
			CacheTTL: 300,
		},
		Alerting: AlertingConfig{
			Enabled: false,
			Timeout: 5,
		},
		Pipeline: PipelineConfig{
			QueueSize:    64,
			DrainTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HEARTHWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("HEARTHWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("HEARTHWATCH_DATABASE_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Database.RetentionDays = days
		}
	}

	// MQTT
	if v := os.Getenv("HEARTHWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HEARTHWATCH_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HEARTHWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HEARTHWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Registry
	if v := os.Getenv("HEARTHWATCH_REGISTRY_URL"); v != "" {
		cfg.Registry.BaseURL = v
	}
	if v := os.Getenv("HEARTHWATCH_REGISTRY_VALIDATION_DISABLED"); v != "" {
		cfg.Registry.ValidationDisabled = v == "true" || v == "1"
	}

	// Alerting
	if v := os.Getenv("HEARTHWATCH_ALERTING_URL"); v != "" {
		cfg.Alerting.BaseURL = v
		cfg.Alerting.Enabled = true
	}

	// API
	if v := os.Getenv("HEARTHWATCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("HEARTHWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Registry.BaseURL == "" && !c.Registry.ValidationDisabled {
		errs = append(errs, "registry.base_url is required unless registry.validation_disabled is set")
	}
	if c.Registry.Timeout <= 0 {
		errs = append(errs, "registry.timeout must be positive")
	}
	if c.Registry.CacheTTL <= 0 {
		errs = append(errs, "registry.cache_ttl must be positive")
	}

	if c.Alerting.Enabled && c.Alerting.BaseURL == "" {
		errs = append(errs, "alerting.base_url is required when alerting is enabled")
	}

	if c.Pipeline.QueueSize < 1 {
		errs = append(errs, "pipeline.queue_size must be at least 1")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RegistryTimeout returns the registry call timeout as a Duration.
func (c *Config) RegistryTimeout() time.Duration {
	return time.Duration(c.Registry.Timeout) * time.Second
}

// RegistryCacheTTL returns the device cache TTL as a Duration.
func (c *Config) RegistryCacheTTL() time.Duration {
	return time.Duration(c.Registry.CacheTTL) * time.Second
}

// DrainTimeout returns the pipeline shutdown drain cap as a Duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Pipeline.DrainTimeout) * time.Second
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
