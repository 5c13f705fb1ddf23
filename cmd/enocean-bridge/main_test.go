package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean"
	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/logging"
)

// writeConfig writes a process config to a temp dir and points GRAYLOGIC_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYLOGIC_CONFIG", configPath)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config failure", err)
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
database:
  path: ""
protocols:
  enocean:
    enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_MissingBridgeConfig verifies run fails before touching the
// database or broker when the bridge config cannot be read.
func TestRun_MissingBridgeConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
protocols:
  enocean:
    enabled: true
    config_file: /nonexistent/enocean-bridge.yaml
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "EnOcean bridge config") {
		t.Fatalf("run() error = %v, want bridge config failure", err)
	}
	if _, statErr := os.Stat(dbPath); !os.IsNotExist(statErr) {
		t.Error("database was created before bridge config was validated")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestMQTTOptions_NoBridge(t *testing.T) {
	opts, err := mqttOptions(nil)
	if err != nil {
		t.Fatalf("mqttOptions(nil) error = %v", err)
	}
	if len(opts) != 0 {
		t.Errorf("mqttOptions(nil) returned %d options, want 0", len(opts))
	}
}

func TestMQTTOptions_BridgeWill(t *testing.T) {
	bridgeCfg := &enocean.Config{Bridge: enocean.BridgeConfig{ID: "enocean-test"}}

	opts, err := mqttOptions(bridgeCfg)
	if err != nil {
		t.Fatalf("mqttOptions() error = %v", err)
	}
	if len(opts) != 1 {
		t.Fatalf("mqttOptions() returned %d options, want 1", len(opts))
	}

	clientOpts := pahomqtt.NewClientOptions()
	opts[0](clientOpts)

	if clientOpts.WillTopic != enocean.HealthTopic() {
		t.Errorf("WillTopic = %q, want %q", clientOpts.WillTopic, enocean.HealthTopic())
	}
	if !clientOpts.WillRetained {
		t.Error("WillRetained = false, want true")
	}

	var msg enocean.HealthMessage
	if err := json.Unmarshal(clientOpts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if msg.Bridge != "enocean-test" || msg.Status != enocean.HealthOffline {
		t.Errorf("will = %+v, want offline for enocean-test", msg)
	}
}

func TestConnectInflux_Disabled(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")

	client, err := connectInflux(config.InfluxDBConfig{Enabled: false}, log)
	if err != nil {
		t.Errorf("connectInflux() error = %v, want nil", err)
	}
	if client != nil {
		t.Error("connectInflux() returned a client while disabled")
	}
}

func TestConnectInflux_Unreachable(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")

	_, err := connectInflux(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "t",
		Org:     "o",
		Bucket:  "b",
	}, log)
	if err == nil {
		t.Fatal("connectInflux() should fail for an unreachable server")
	}
}

// TestRun_SuccessfulStartupAndShutdown tests full startup with running services.
// Requires MQTT broker at 127.0.0.1:1883; the bridge itself is disabled.
func TestRun_SuccessfulStartupAndShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("requires MQTT broker")
	}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-enocean-startup"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5
influxdb:
  enabled: false
logging:
  level: info
  format: text
  output: stdout
protocols:
  enocean:
    enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Logf("run() returned error: %v (may be due to missing MQTT broker)", err)
	}
}
