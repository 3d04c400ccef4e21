// BSB-LAN Bridge
//
// The bridge mirrors the parameters of a heating controller, reached
// through a BSB-LAN gateway, into a local object store. Values are
// published on MQTT, recorded in InfluxDB and exposed over a REST and
// WebSocket API; requested changes flow back to the controller.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/bsblan-bridge/migrations"

	"github.com/nerrad567/bsblan-bridge/internal/api"
	"github.com/nerrad567/bsblan-bridge/internal/bridges/bsblan"
	"github.com/nerrad567/bsblan-bridge/internal/bsb/client"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/config"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/database"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/bsblan-bridge/internal/object"
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
// Components start in dependency order and their deferred Close/Stop
// calls run in reverse: API, bridge, InfluxDB, MQTT, database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting BSB-LAN bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "bsblan", cfg.BSBLAN.String())

	// Database and object store
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := object.NewRegistry(object.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("objects"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading object store: %w", refreshErr)
	}
	log.Info("object store loaded", "objects", registry.Count())

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connection re-established")
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"prefix", mqttClient.Topics().Status(),
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.BSBLAN.Host)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device client and bridge
	clientMetrics := client.NewMetrics()
	bridgeMetrics := bsblan.NewMetrics()
	promRegistry.MustRegister(clientMetrics, bridgeMetrics)

	device, err := client.New(clientOptions(cfg.BSBLAN, clientMetrics))
	if err != nil {
		return fmt.Errorf("creating device client: %w", err)
	}
	device.SetLogger(log.Component("bsb"))

	bridge, err := bsblan.NewBridge(bridgeOptions(cfg, device, registry, mqttClient, influxClient, bridgeMetrics, log))
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()
	log.Info("bridge started", "host", device.BaseURL())

	// API server
	apiDeps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Registry:   registry,
		Bridge:     bridge,
		DB:         db,
		Prometheus: promRegistry,
		Version:    version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	if influxClient != nil {
		apiDeps.InfluxDB = influxClient
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns the configuration file path.
// Uses BSBLAN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BSBLAN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// clientOptions converts the bsblan config section for the device client.
func clientOptions(cfg config.BSBLANConfig, metrics *client.Metrics) client.Options {
	overrides := make(map[string]client.Override, len(cfg.Overrides))
	for id, ov := range cfg.Overrides {
		overrides[id] = client.Override{RW: ov.RW, WriteType: ov.WriteType, Legacy: ov.Legacy}
	}
	return client.Options{
		Host:       cfg.Host,
		User:       cfg.User,
		Password:   cfg.Password,
		Timeout:    time.Duration(cfg.Timeout) * time.Second,
		RetryDelay: time.Duration(cfg.RetryDelay) * time.Second,
		Overrides:  overrides,
		Metrics:    metrics,
	}
}

// bridgeOptions wires the bridge. Optional components are only set when
// present so the bridge sees untyped nil interfaces for missing ones.
func bridgeOptions(
	cfg *config.Config,
	device *client.Client,
	registry *object.Registry,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	metrics *bsblan.Metrics,
	log *logging.Logger,
) bsblan.BridgeOptions {
	opts := bsblan.BridgeOptions{
		Client:         device,
		Store:          registry,
		Metrics:        metrics,
		Logger:         log.Component("bridge"),
		Topics:         mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix},
		Interval:       cfg.BSBLAN.PollInterval(),
		Values:         cfg.BSBLAN.Values,
		Host:           cfg.BSBLAN.Host,
		Version:        version,
		HealthInterval: time.Duration(cfg.BSBLAN.HealthInterval) * time.Second,
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.History = influxClient
	}
	return opts
}
