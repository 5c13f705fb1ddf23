package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root process configuration for the EnOcean bridge.
// Bridge-specific settings (gateway, devices, teach-in) live in the file
// referenced by protocols.enocean.config_file.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Protocols ProtocolsConfig `yaml:"protocols"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// String keeps the password out of log output.
func (a MQTTAuthConfig) String() string {
	if a.Password == "" {
		return fmt.Sprintf("{Username:%s}", a.Username)
	}
	return fmt.Sprintf("{Username:%s Password:[REDACTED]}", a.Username)
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Rotation is left to logrotate (copytruncate).
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// ProtocolsConfig contains protocol bridge settings.
type ProtocolsConfig struct {
	EnOcean EnOceanConfig `yaml:"enocean"`
}

// EnOceanConfig enables the EnOcean bridge and points at its own config file.
type EnOceanConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ConfigFile string `yaml:"config_file"` // bridge YAML or TOML
}

// Load reads the YAML file at path on top of the defaults, applies
// GRAYLOGIC_* environment overrides and validates the result.
//
// Returns:
//   - *Config: Validated configuration
//   - error: Wrapping the read, parse or validation failure
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{ID: "site-001", Name: "Gray Logic"},
		Database: DatabaseConfig{
			Path:        "./data/enocean.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "graylogic-enocean"},
			QoS:    1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{BatchSize: 100, FlushInterval: 10},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Protocols: ProtocolsConfig{
			EnOcean: EnOceanConfig{Enabled: true, ConfigFile: "./configs/enocean-bridge.yaml"},
		},
	}
}

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string)
}

var envOverrides = []envOverride{
	{"GRAYLOGIC_DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"GRAYLOGIC_MQTT_HOST", func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{"GRAYLOGIC_MQTT_PORT", func(c *Config, v string) {
		// A malformed port keeps the file value; Validate reports range errors.
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTT.Broker.Port = port
		}
	}},
	{"GRAYLOGIC_MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{"GRAYLOGIC_MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{"GRAYLOGIC_INFLUXDB_URL", func(c *Config, v string) { c.InfluxDB.URL = v }},
	{"GRAYLOGIC_INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
	{"GRAYLOGIC_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"GRAYLOGIC_ENOCEAN_CONFIG", func(c *Config, v string) { c.Protocols.EnOcean.ConfigFile = v }},
}

// applyEnvOverrides copies every non-empty GRAYLOGIC_* variable into cfg.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var errs []string
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	require(c.Site.ID != "", "site.id is required")
	require(c.Database.Path != "", "database.path is required")

	require(c.MQTT.Broker.Host != "", "mqtt.broker.host is required")
	require(c.MQTT.Broker.Port >= 1 && c.MQTT.Broker.Port <= 65535, "mqtt.broker.port must be between 1 and 65535")
	require(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")

	if c.InfluxDB.Enabled {
		require(c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")
		require(c.InfluxDB.Org != "", "influxdb.org is required when influxdb is enabled")
		require(c.InfluxDB.Bucket != "", "influxdb.bucket is required when influxdb is enabled")
	}

	errs = append(errs, c.Logging.problems()...)

	if c.Protocols.EnOcean.Enabled {
		require(c.Protocols.EnOcean.ConfigFile != "", "protocols.enocean.config_file is required when enocean is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (l LoggingConfig) problems() []string {
	var errs []string
	if !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, strings.ToLower(l.Level)) {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid", l.Level))
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(l.Format)) {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid", l.Format))
	}
	switch strings.ToLower(l.Output) {
	case "stdout", "stderr":
	case "file":
		if l.File.Path == "" {
			errs = append(errs, "logging.file.path is required when output is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("logging.output %q is invalid", l.Output))
	}
	return errs
}

// MQTTReconnectDelay returns mqtt.reconnect.initial_delay as a Duration.
func (c *Config) MQTTReconnectDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Second
}
