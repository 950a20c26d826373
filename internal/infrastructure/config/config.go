package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the dalilink controller.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Directory   DirectoryConfig   `yaml:"directory"`
	BLE         BLEConfig         `yaml:"ble"`
	Relay       RelayConfig       `yaml:"relay"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Performance PerformanceConfig `yaml:"performance"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DirectoryConfig locates the device/group directory document.
type DirectoryConfig struct {
	// Path is the JSON file holding devices, groups, and settings.
	Path string `yaml:"path"`

	// ReloadPollSeconds is how often the file modification time is
	// checked for hot reload. 0 disables polling.
	ReloadPollSeconds int `yaml:"reload_poll_seconds"`
}

// BLEConfig contains the BLE transport and command pipeline settings.
type BLEConfig struct {
	// ScanSeconds is the default discovery scan duration.
	ScanSeconds int `yaml:"scan_seconds"`

	// ConnectTimeoutSeconds bounds a single connection attempt.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	// CommandIntervalMs overrides the tier-derived minimum spacing
	// between commands to the same gateway. 0 means use the tier value.
	CommandIntervalMs int `yaml:"command_interval_ms"`

	// IdleEvictionSeconds is how long an unused connection may sit in
	// the pool before the sweeper releases it.
	IdleEvictionSeconds int `yaml:"idle_eviction_seconds"`

	// SweepIntervalSeconds is how often the pool sweeper runs.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// FailureEscalation is the number of consecutive failed connect or
	// scan cycles before the controller latches into simulation mode.
	FailureEscalation int `yaml:"failure_escalation"`

	// ForceSimulation starts the controller in simulation mode without
	// probing for a BLE adapter. Useful on development machines.
	ForceSimulation bool `yaml:"force_simulation"`
}

// RelayConfig contains the GPIO relay driver settings.
type RelayConfig struct {
	Enabled bool `yaml:"enabled"`

	// Chip is the gpiochip device name (e.g. "gpiochip0").
	Chip string `yaml:"chip"`
}

// DatabaseConfig contains SQLite database settings for command history.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for latency telemetry.
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

// PerformanceConfig contains periodic performance reporting settings.
type PerformanceConfig struct {
	// ReportIntervalSeconds is how often a summary of command latency
	// and success rate is logged. 0 disables the report.
	ReportIntervalSeconds int `yaml:"report_interval_seconds"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DALILINK_SECTION_KEY
// For example: DALILINK_DATABASE_PATH, DALILINK_MQTT_HOST
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
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "dalilink",
			Timezone: "UTC",
		},
		Directory: DirectoryConfig{
			Path:              "./data/devices.json",
			ReloadPollSeconds: 5,
		},
		BLE: BLEConfig{
			ScanSeconds:           8,
			ConnectTimeoutSeconds: 10,
			IdleEvictionSeconds:   300,
			SweepIntervalSeconds:  60,
			FailureEscalation:     3,
		},
		Relay: RelayConfig{
			Enabled: true,
			Chip:    "gpiochip0",
		},
		Database: DatabaseConfig{
			Path:        "./data/dalilink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dalilink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Performance: PerformanceConfig{
			ReportIntervalSeconds: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DALILINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DALILINK_DIRECTORY_PATH"); v != "" {
		cfg.Directory.Path = v
	}
	if v := os.Getenv("DALILINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DALILINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DALILINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DALILINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("DALILINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// BLE
	if v := os.Getenv("DALILINK_BLE_FORCE_SIMULATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.BLE.ForceSimulation = b
		}
	}
	if v := os.Getenv("DALILINK_BLE_COMMAND_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.BLE.CommandIntervalMs = n
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Directory.Path == "" {
		errs = append(errs, "directory.path is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.BLE.ScanSeconds < 1 {
		errs = append(errs, "ble.scan_seconds must be at least 1")
	}
	if c.BLE.ConnectTimeoutSeconds < 1 {
		errs = append(errs, "ble.connect_timeout_seconds must be at least 1")
	}
	if c.BLE.FailureEscalation < 1 {
		errs = append(errs, "ble.failure_escalation must be at least 1")
	}
	if c.BLE.CommandIntervalMs < 0 {
		errs = append(errs, "ble.command_interval_ms must not be negative")
	}
	if c.Relay.Enabled && c.Relay.Chip == "" {
		errs = append(errs, "relay.chip is required when relay is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ScanDuration returns the default discovery scan duration.
func (c *Config) ScanDuration() time.Duration {
	return time.Duration(c.BLE.ScanSeconds) * time.Second
}

// ConnectTimeout returns the per-attempt connection timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.BLE.ConnectTimeoutSeconds) * time.Second
}

// CommandInterval returns the configured per-gateway command spacing
// override, or 0 when the directory setting or host tier default
// should apply.
func (c *Config) CommandInterval() time.Duration {
	return time.Duration(c.BLE.CommandIntervalMs) * time.Millisecond
}

// IdleEviction returns how long an idle pooled connection survives.
func (c *Config) IdleEviction() time.Duration {
	return time.Duration(c.BLE.IdleEvictionSeconds) * time.Second
}

// SweepInterval returns the pool sweeper cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.BLE.SweepIntervalSeconds) * time.Second
}

// ReloadPoll returns the directory reload polling cadence.
func (c *Config) ReloadPoll() time.Duration {
	return time.Duration(c.Directory.ReloadPollSeconds) * time.Second
}

// ReportInterval returns the performance report cadence.
func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.Performance.ReportIntervalSeconds) * time.Second
}
