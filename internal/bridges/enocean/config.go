package enocean

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean/esp3"
)

// DefaultGatewayConnection is the default gateway link.
const DefaultGatewayConnection = "serial:///dev/ttyUSB0"

// Config is the root configuration for the EnOcean bridge.
// Loaded from YAML or TOML with environment variable overrides.
type Config struct {
	Bridge  BridgeConfig    `yaml:"bridge" toml:"bridge"`
	Gateway GatewaySettings `yaml:"gateway" toml:"gateway"`
	TeachIn TeachInSettings `yaml:"teach_in" toml:"teach_in"`
	Devices []DeviceConfig  `yaml:"devices" toml:"devices"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance.
	// Used in health and discovery messages.
	ID string `yaml:"id" toml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval" toml:"health_interval"`

	// PublishUnknown publishes state for senders that are not configured.
	// Default: false.
	PublishUnknown bool `yaml:"publish_unknown" toml:"publish_unknown"`
}

// GatewaySettings contains the gateway link settings.
// These override the defaults in GatewayConfig.
type GatewaySettings struct {
	// Connection is the gateway URL.
	// Supported formats:
	//   - "serial:///dev/ttyUSB0"
	//   - "tcp://192.168.1.50:9999"
	// Default: "serial:///dev/ttyUSB0"
	Connection string `yaml:"connection" toml:"connection"`

	// BaudRate applies to serial links. Default: 57600.
	BaudRate int `yaml:"baud_rate" toml:"baud_rate"`

	// ConnectTimeout is the maximum time to open the link (seconds).
	// Default: 10 seconds.
	ConnectTimeout int `yaml:"connect_timeout" toml:"connect_timeout"`

	// ReadTimeout bounds a single read (seconds). Default: 1 second.
	ReadTimeout int `yaml:"read_timeout" toml:"read_timeout"`

	// ReconnectInterval is the initial delay between reconnection
	// attempts (seconds). Default: 5 seconds.
	ReconnectInterval int `yaml:"reconnect_interval" toml:"reconnect_interval"`

	// SenderID is the address used for outbound telegrams, normally the
	// gateway's base ID or one of the 127 addresses above it.
	// Empty means the gateway's chip ID (written as 00000000).
	SenderID string `yaml:"sender_id" toml:"sender_id"`
}

// TeachInSettings controls teach-in detection.
type TeachInSettings struct {
	// MinRSSI is the weakest signal (dBm, negative) accepted for teach-in.
	// 0 disables the check. Example: -70 only learns devices close by.
	MinRSSI int `yaml:"min_rssi" toml:"min_rssi"`

	// RequireRSSIForAll applies MinRSSI to rocker (RPS) telegrams too.
	// Rockers have no learn bit, so every press counts as a teach-in.
	RequireRSSIForAll bool `yaml:"require_rssi_for_all" toml:"require_rssi_for_all"`

	// LearnWindow is how long learn mode stays on when started without
	// an explicit duration (seconds). Default: 60 seconds.
	LearnWindow int `yaml:"learn_window" toml:"learn_window"`
}

// DeviceConfig binds a radio sender to a Gray Logic device.
type DeviceConfig struct {
	// DeviceID is the Gray Logic device identifier.
	DeviceID string `yaml:"device_id" toml:"device_id"`

	// Address is the sender (or, for actuators, destination) address,
	// 8 hex digits.
	Address string `yaml:"address" toml:"address"`

	// Profile is the EEP, e.g. "F6-02-01" or "A5-02-05".
	Profile string `yaml:"profile" toml:"profile"`

	// Name is an optional human-readable label.
	Name string `yaml:"name" toml:"name"`
}

// LoadConfig reads configuration from a YAML or TOML file.
//
// The format follows the file extension: ".toml" is parsed as TOML,
// anything else as YAML. The loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ENOCEAN_BRIDGE_SECTION_KEY
// For example: ENOCEAN_BRIDGE_GATEWAY_CONNECTION, ENOCEAN_BRIDGE_TEACH_IN_MIN_RSSI
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
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
		Bridge: BridgeConfig{
			ID:             "enocean-bridge-01",
			HealthInterval: 30,
		},
		Gateway: GatewaySettings{
			Connection:        DefaultGatewayConnection,
			BaudRate:          DefaultBaudRate,
			ConnectTimeout:    10,
			ReadTimeout:       1,
			ReconnectInterval: 5,
		},
		TeachIn: TeachInSettings{
			LearnWindow: 60,
		},
		Devices: []DeviceConfig{},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENOCEAN_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	if v := os.Getenv("ENOCEAN_BRIDGE_GATEWAY_CONNECTION"); v != "" {
		cfg.Gateway.Connection = v
	}
	if v := os.Getenv("ENOCEAN_BRIDGE_GATEWAY_BAUD_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.BaudRate = n
		}
	}
	if v := os.Getenv("ENOCEAN_BRIDGE_GATEWAY_SENDER_ID"); v != "" {
		cfg.Gateway.SenderID = v
	}

	if v := os.Getenv("ENOCEAN_BRIDGE_TEACH_IN_MIN_RSSI"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TeachIn.MinRSSI = n
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateTeachIn()...)
	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	return errs
}

func (c *Config) validateGateway() []string {
	var errs []string
	if c.Gateway.Connection == "" {
		errs = append(errs, "gateway.connection is required")
	} else if _, _, err := parseConnectionURL(c.Gateway.Connection); err != nil {
		errs = append(errs, fmt.Sprintf("gateway.connection %q is invalid: %v", c.Gateway.Connection, err))
	}
	if c.Gateway.BaudRate < 1 {
		errs = append(errs, "gateway.baud_rate must be positive")
	}
	if c.Gateway.ConnectTimeout < 1 {
		errs = append(errs, "gateway.connect_timeout must be at least 1 second")
	}
	if c.Gateway.ReadTimeout < 1 {
		errs = append(errs, "gateway.read_timeout must be at least 1 second")
	}
	if c.Gateway.SenderID != "" {
		if _, err := esp3.ParseAddress(c.Gateway.SenderID); err != nil {
			errs = append(errs, fmt.Sprintf("gateway.sender_id %q is invalid", c.Gateway.SenderID))
		}
	}
	return errs
}

// validateTeachIn checks the RSSI gate. dBm readings are negative and a
// gateway reports at most 255 dB of attenuation.
func (c *Config) validateTeachIn() []string {
	var errs []string
	if c.TeachIn.MinRSSI > 0 || c.TeachIn.MinRSSI < -255 {
		errs = append(errs, fmt.Sprintf("teach_in.min_rssi %d must be between -255 and 0", c.TeachIn.MinRSSI))
	}
	if c.TeachIn.LearnWindow < 1 {
		errs = append(errs, "teach_in.learn_window must be at least 1 second")
	}
	return errs
}

func (c *Config) validateDevices() []string {
	var errs []string
	deviceIDs := make(map[string]bool)
	addresses := make(map[esp3.Address]bool)

	for i, dev := range c.Devices {
		if dev.DeviceID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id is required", i))
			continue
		}
		if deviceIDs[dev.DeviceID] {
			errs = append(errs, fmt.Sprintf("devices[%d].device_id %q is duplicate", i, dev.DeviceID))
		}
		deviceIDs[dev.DeviceID] = true

		addr, err := esp3.ParseAddress(dev.Address)
		switch {
		case dev.Address == "":
			errs = append(errs, fmt.Sprintf("devices[%d].address is required", i))
		case err != nil:
			errs = append(errs, fmt.Sprintf("devices[%d].address %q is invalid", i, dev.Address))
		case addresses[addr]:
			errs = append(errs, fmt.Sprintf("devices[%d].address %s is duplicate", i, addr))
		default:
			addresses[addr] = true
		}

		if dev.Profile == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].profile is required", i))
		} else if _, err := esp3.ParseProfile(dev.Profile); err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d].profile %q is invalid", i, dev.Profile))
		}
	}

	return errs
}

// ToGatewayConfig converts settings to a GatewayConfig for the client.
func (c *Config) ToGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Connection:        c.Gateway.Connection,
		BaudRate:          c.Gateway.BaudRate,
		ConnectTimeout:    time.Duration(c.Gateway.ConnectTimeout) * time.Second,
		ReadTimeout:       time.Duration(c.Gateway.ReadTimeout) * time.Second,
		ReconnectInterval: time.Duration(c.Gateway.ReconnectInterval) * time.Second,
	}
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetLearnWindow returns the default learn mode duration.
func (c *Config) GetLearnWindow() time.Duration {
	return time.Duration(c.TeachIn.LearnWindow) * time.Second
}

// GetSenderID returns the parsed outbound sender address.
// Validate has already rejected malformed values.
func (c *Config) GetSenderID() esp3.Address {
	if c.Gateway.SenderID == "" {
		return 0
	}
	addr, err := esp3.ParseAddress(c.Gateway.SenderID)
	if err != nil {
		return 0
	}
	return addr
}
