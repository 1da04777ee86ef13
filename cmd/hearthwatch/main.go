// HearthWatch Core - Smart Kitchen Safety Service
//
// This is the main entry point for the HearthWatch Core service. It
// ingests ESP32 controller telemetry over MQTT, validates devices against
// the external registry, evaluates emergency thresholds, tracks runtime
// device state, persists an event log and serves the REST/WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	_ "github.com/hearthwatch/hearthwatch-core/migrations"

	"github.com/hearthwatch/hearthwatch-core/internal/alert"
	"github.com/hearthwatch/hearthwatch-core/internal/api"
	"github.com/hearthwatch/hearthwatch-core/internal/bridge"
	"github.com/hearthwatch/hearthwatch-core/internal/device"
	"github.com/hearthwatch/hearthwatch-core/internal/eventlog"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/config"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/database"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/influxdb"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/logging"
	"github.com/hearthwatch/hearthwatch-core/internal/infrastructure/mqtt"
	"github.com/hearthwatch/hearthwatch-core/internal/livebus"
	"github.com/hearthwatch/hearthwatch-core/internal/registry"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting HearthWatch Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load .env if present so HEARTHWATCH_* overrides reach config.Load.
	if err := godotenv.Load(); err == nil {
		log.Info(".env loaded")
	}

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	eventLog := eventlog.NewRepository(db)

	// Event log retention
	if cfg.Database.RetentionDays > 0 {
		janitor := eventlog.NewJanitor(eventLog, eventlog.JanitorOptions{
			MaxAge: time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour,
			Logger: log,
		})
		janitor.Start()
		defer janitor.Stop()
		log.Info("event log retention enabled", "days", cfg.Database.RetentionDays)
	} else {
		log.Info("event log retention disabled")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
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

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device registry client + validation cache
	registryClient := registry.NewClient(
		cfg.Registry.BaseURL,
		time.Duration(cfg.Registry.Timeout)*time.Second,
		log,
	)
	validationCache := registry.NewCache(registryClient, registry.CacheOptions{
		TTL:                time.Duration(cfg.Registry.CacheTTL) * time.Second,
		AllowList:          cfg.Registry.AllowList,
		ValidationDisabled: cfg.Registry.ValidationDisabled,
	}, log)

	if warmed, warmErr := validationCache.Warm(ctx); warmErr != nil {
		log.Warn("registry cache warm-up failed, validating on demand", "error", warmErr)
	} else {
		log.Info("registry cache warmed", "devices", warmed)
	}

	// Alert delivery (optional)
	var notifier alert.Notifier = alert.Noop{}
	if cfg.Alerting.Enabled {
		notifier = alert.NewClient(
			cfg.Alerting.BaseURL,
			time.Duration(cfg.Alerting.Timeout)*time.Second,
			log,
		)
		log.Info("alert delivery enabled", "url", cfg.Alerting.BaseURL)
	} else {
		log.Info("alert delivery disabled")
	}

	// Runtime state and live fan-out
	states := device.NewStateStore()
	bus := livebus.New(log)
	defer bus.Close()

	// Ingestion pipeline
	pipelineOpts := bridge.PipelineOptions{
		Broker:       mqttClient,
		Validator:    validationCache,
		States:       states,
		Recorder:     eventLog,
		Notifier:     notifier,
		Bus:          bus,
		QueueSize:    cfg.Pipeline.QueueSize,
		DrainTimeout: time.Duration(cfg.Pipeline.DrainTimeout) * time.Second,
		Logger:       log,
	}
	if influxClient != nil {
		pipelineOpts.TimeSeries = influxClient
	}
	pipeline, err := bridge.NewPipeline(pipelineOpts)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	if startErr := pipeline.Start(); startErr != nil {
		return fmt.Errorf("starting pipeline: %w", startErr)
	}
	defer func() {
		log.Info("stopping pipeline")
		pipeline.Stop()
	}()

	// Command dispatcher
	dispatcher, err := bridge.NewDispatcher(bridge.DispatcherOptions{
		Broker:    mqttClient,
		Validator: validationCache,
		States:    states,
		Recorder:  eventLog,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	// HTTP API and WebSocket server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		States:     states,
		Dispatcher: dispatcher,
		Pipeline:   pipeline,
		Bus:        bus,
		EventLog:   eventLog,
		Cache:      validationCache,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Pipeline (drains per-device queues)
	// 3. Live bus
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database

	log.Info("HearthWatch Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HEARTHWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTHWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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

	return nil
}
