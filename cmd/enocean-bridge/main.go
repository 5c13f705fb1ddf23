// Gray Logic EnOcean Bridge
//
// This is the main entry point for the EnOcean bridge. It connects an ESP3
// gateway (USB300, TCM310 or a ser2net socket) to the Gray Logic MQTT bus:
//   - Radio telegrams become state, discovery and health messages
//   - Commands from Core become outbound radio telegrams
//   - Senders and teach-ins are surveyed into SQLite
//   - Link quality and decoded values go to InfluxDB (optional)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-enocean/migrations"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean"
	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-enocean/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic EnOcean bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Load the bridge config before connecting so the health LWT can be
	// registered with the broker.
	var bridgeCfg *enocean.Config
	if cfg.Protocols.EnOcean.Enabled {
		bridgeCfg, err = enocean.LoadConfig(cfg.Protocols.EnOcean.ConfigFile)
		if err != nil {
			return fmt.Errorf("loading EnOcean bridge config: %w", err)
		}
		log.Info("EnOcean bridge config loaded",
			"path", cfg.Protocols.EnOcean.ConfigFile,
			"devices", len(bridgeCfg.Devices),
		)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	mqttOpts, err := mqttOptions(bridgeCfg)
	if err != nil {
		return err
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqttOpts...)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	var gateway *enocean.GatewayClient
	if bridgeCfg != nil {
		var stopBridge func()
		stopBridge, gateway, err = startBridge(ctx, bridgeCfg, db, mqttClient, influxClient, log)
		if err != nil {
			return fmt.Errorf("starting EnOcean bridge: %w", err)
		}
		defer stopBridge()
	} else {
		log.Info("EnOcean bridge disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, gateway); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Bridge and gateway
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("Gray Logic EnOcean bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// mqttOptions returns the connection options for the bridge's MQTT client.
// With a bridge configured, the broker publishes an offline health message
// on the bridge's health topic if the connection drops.
func mqttOptions(bridgeCfg *enocean.Config) ([]mqtt.Option, error) {
	if bridgeCfg == nil {
		return nil, nil
	}
	payload, err := json.Marshal(enocean.NewLWTMessage(bridgeCfg.Bridge.ID))
	if err != nil {
		return nil, fmt.Errorf("encoding LWT: %w", err)
	}
	return []mqtt.Option{mqtt.WithWill(enocean.HealthTopic(), payload)}, nil
}

// connectInflux connects to InfluxDB when enabled.
// A nil client with a nil error means InfluxDB is disabled.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - gateway: ESP3 gateway to check (may be nil if the bridge is disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, gateway *enocean.GatewayClient) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if gateway != nil {
		if err := gateway.HealthCheck(ctx); err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	}

	return nil
}

// startBridge connects the gateway and starts the EnOcean bridge.
//
// Parameters:
//   - ctx: Context for connection/cancellation
//   - bridgeCfg: Loaded bridge configuration (gateway, devices, teach-in)
//   - db: Database for the sender survey
//   - mqttClient: MQTT client for publishing/subscribing
//   - influxClient: Time-series writer (may be nil if disabled)
//   - log: Logger instance
//
// Returns:
//   - func(): Stops the bridge, the recorder and the gateway, in that order
//   - *enocean.GatewayClient: Connected gateway, for health checks
//   - error: If the gateway or bridge fails to start
func startBridge(
	ctx context.Context,
	bridgeCfg *enocean.Config,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (func(), *enocean.GatewayClient, error) {
	gateway, err := enocean.Connect(ctx, bridgeCfg.ToGatewayConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to gateway: %w", err)
	}
	gateway.SetLogger(log.Component("gateway"))
	log.Info("connected to gateway", "connection", bridgeCfg.Gateway.Connection)

	recorder := enocean.NewRecorder(db.DB)
	recorder.SetLogger(log.Component("recorder"))
	if err := recorder.Start(); err != nil {
		_ = gateway.Close()
		return nil, nil, fmt.Errorf("starting sender recorder: %w", err)
	}

	opts := enocean.BridgeOptions{
		Config:     bridgeCfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Gateway:    gateway,
		Logger:     log.Component("bridge"),
		Recorder:   recorder,
		Version:    version,
	}
	// A nil *influxdb.Client in the interface would not compare equal to nil.
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := enocean.NewBridge(opts)
	if err != nil {
		recorder.Stop()
		_ = gateway.Close()
		return nil, nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		recorder.Stop()
		_ = gateway.Close()
		return nil, nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("EnOcean bridge started", "bridge_id", bridgeCfg.Bridge.ID)

	stop := func() {
		log.Info("stopping EnOcean bridge")
		bridge.Stop()
		recorder.Stop()
		if closeErr := gateway.Close(); closeErr != nil {
			log.Error("error closing gateway", "error", closeErr)
		}
	}
	return stop, gateway, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The primary difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - EnOcean bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements enocean.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements enocean.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements enocean.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements enocean.MQTTClient.
// The MQTT client lifecycle is owned by run's defer chain.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
