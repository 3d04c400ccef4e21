package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the BSB-LAN bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	BSBLAN    BSBLANConfig    `yaml:"bsblan"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
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

// BSBLANConfig describes the heating controller gateway and the parameters to track.
type BSBLANConfig struct {
	// Host is the gateway network address, optionally with a port ("192.168.1.50" or "bsb:8080").
	Host string `yaml:"host"`

	// User and Password enable HTTP Basic auth when both are set.
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Interval is the number of seconds between synchronization cycles.
	// Values below MinInterval are clamped up by the bridge.
	Interval int `yaml:"interval"`

	// Values is the comma or newline separated list of parameter ids to track.
	Values string `yaml:"values"`

	// Timeout is the per-request ceiling in seconds.
	Timeout int `yaml:"timeout"`

	// RetryDelay is the fixed pause in seconds between request attempts.
	RetryDelay int `yaml:"retry_delay"`

	// Overrides replaces the read/write guess and write type for specific parameters.
	// Keys are parameter ids.
	Overrides map[string]OverrideConfig `yaml:"overrides"`

	// HealthInterval is how often the bridge health is published, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// OverrideConfig is a static per-parameter override for firmware that does
// not report writability itself.
type OverrideConfig struct {
	RW        *bool `yaml:"rw"`
	WriteType *int  `yaml:"write_type"`

	// Legacy sends writes through the plain-text "/I" endpoint.
	Legacy bool `yaml:"legacy"`
}

// MinInterval is the shortest allowed synchronization interval.
const MinInterval = 10 * time.Second

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BSBLAN_SECTION_KEY
// For example: BSBLAN_DATABASE_PATH, BSBLAN_DEVICE_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Database: DatabaseConfig{
			Path:        "./data/bsblan.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "bsblan-bridge",
			},
			QoS:         1,
			TopicPrefix: "bsblan",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
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
		BSBLAN: BSBLANConfig{
			Interval:       60,
			Timeout:        15,
			RetryDelay:     2,
			HealthInterval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BSBLAN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("BSBLAN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BSBLAN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BSBLAN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BSBLAN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("BSBLAN_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("BSBLAN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Device
	if v := os.Getenv("BSBLAN_DEVICE_HOST"); v != "" {
		cfg.BSBLAN.Host = v
	}
	if v := os.Getenv("BSBLAN_DEVICE_USER"); v != "" {
		cfg.BSBLAN.User = v
	}
	if v := os.Getenv("BSBLAN_DEVICE_PASSWORD"); v != "" {
		cfg.BSBLAN.Password = v
	}
	if v := os.Getenv("BSBLAN_DEVICE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BSBLAN.Interval = n
		}
	}
	if v := os.Getenv("BSBLAN_DEVICE_VALUES"); v != "" {
		cfg.BSBLAN.Values = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must not contain wildcards")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.BSBLAN.Host == "" {
		errs = append(errs, "bsblan.host is required (set BSBLAN_DEVICE_HOST environment variable)")
	}
	if c.BSBLAN.Interval < 0 {
		errs = append(errs, "bsblan.interval must not be negative")
	}
	if c.BSBLAN.Timeout < 0 || c.BSBLAN.RetryDelay < 0 {
		errs = append(errs, "bsblan.timeout and bsblan.retry_delay must not be negative")
	}
	if (c.BSBLAN.User == "") != (c.BSBLAN.Password == "") {
		errs = append(errs, "bsblan.user and bsblan.password must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// PollInterval returns the synchronization interval with the floor applied.
// A zero interval selects the 60 second default.
func (b BSBLANConfig) PollInterval() time.Duration {
	if b.Interval == 0 {
		return 60 * time.Second
	}
	d := time.Duration(b.Interval) * time.Second
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// String implements fmt.Stringer with the device password redacted.
func (b BSBLANConfig) String() string {
	password := ""
	if b.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("{Host:%s User:%s Password:%s Interval:%d Values:%q}",
		b.Host, b.User, password, b.Interval, b.Values)
}
