// Gray Logic Discovery - UDP device discovery service
//
// This is the main entry point for the discovery service. It listens for
// device announcements on one UDP port, filters out devices the site
// already knows, and hands new devices to:
//   - the SQLite discovery inbox for review
//   - MQTT, as retained per-device topics for Gray Logic Core
//   - WebSocket clients of the REST API
//   - InfluxDB, as event and counter telemetry
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-discovery/internal/api"
	"github.com/nerrad567/gray-logic-discovery/internal/audit"
	"github.com/nerrad567/gray-logic-discovery/internal/device"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery/codec"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery/udp"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-discovery/internal/notify"
	"github.com/nerrad567/gray-logic-discovery/migrations"
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
// It blocks until ctx is cancelled and returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Discovery",
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
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"protocol", cfg.Discovery.Protocol,
	)

	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	repo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(repo)
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "known_devices", registry.Count())

	inbox := device.NewInbox(repo)
	inbox.SetLogger(log.Component("inbox"))

	engine, err := newEngine(cfg, registry, log)
	if err != nil {
		return err
	}
	engine.SetResultBuilder(inbox)

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	engine.AddListener(hub.HandleEvent)

	components := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     nil,
		"influxdb": nil,
	}
	var (
		statsSink notify.StatsSink
		healthPub notify.Publisher
	)

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
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

		engine.AddListener(notify.NewMQTTPublisher(mqttClient, log.Component("notify")).HandleEvent)

		scanCommands := notify.NewScanCommands(mqttClient, engine, byte(cfg.MQTT.QoS), log.Component("notify")) //nolint:gosec // QoS validated to 0-2
		if subErr := scanCommands.Start(); subErr != nil {
			return fmt.Errorf("subscribing to scan commands: %w", subErr)
		}
		defer func() {
			if stopErr := scanCommands.Stop(); stopErr != nil {
				log.Warn("error unsubscribing scan commands", "error", stopErr)
			}
		}()

		components["mqtt"] = mqttClient
		healthPub = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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

		engine.AddListener(notify.NewEventRecorder(influxClient).HandleEvent)
		components["influxdb"] = influxClient
		statsSink = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	handle, err := engine.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting discovery engine: %w", err)
	}
	defer func() {
		log.Info("stopping discovery engine")
		handle.Stop()
	}()

	if cfg.Discovery.ScanOnStart {
		if _, scanErr := handle.Scan(0); scanErr != nil {
			log.Warn("initial scan failed", "error", scanErr)
		}
	}

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Discovery:  engine,
		Devices:    registry,
		Inbox:      inbox,
		Audit:      audit.NewSQLiteRepository(db.DB),
		Hub:        hub,
		Components: components,
		Version:    version,
	})
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

	if err := healthCheck(ctx, components); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	reporter := notify.NewStatsReporter(notify.StatsReporterConfig{
		Source:    engine,
		Sink:      statsSink,
		Publisher: healthPub,
		Version:   version,
		Interval:  cfg.Discovery.StatsInterval,
		Logger:    log.Component("stats"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reporter.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Deferred Close() calls run in reverse order: engine, scan
	// commands, InfluxDB, MQTT, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// newEngine builds the codec and engine from the discovery config.
func newEngine(cfg *config.Config, registry discovery.RegistryView, log *logging.Logger) (*discovery.Engine, error) {
	d := cfg.Discovery

	pattern, err := d.BeaconPattern()
	if err != nil {
		return nil, err
	}
	c, err := codec.New(d.Protocol, codec.Settings{
		BeaconFamily:  d.Beacon.Family,
		BeaconPattern: pattern,
	})
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	engine, err := discovery.New(discovery.Config{
		Socket: udp.Options{
			Address:        d.Listen.Address,
			Port:           d.Listen.Port,
			Broadcast:      d.Listen.Broadcast,
			ReuseAddress:   d.Listen.ReuseAddress,
			ReceiveTimeout: d.ReceiveTimeout,
			MulticastGroup: d.Listen.MulticastGroup,
			Interface:      d.Listen.Interface,
			ReadBufferSize: d.Listen.ReadBufferSize,
		},
		StalenessThreshold: d.StalenessThreshold,
		ScanDuration:       d.ScanDuration,
		ProbeAddress:       d.ProbeAddress,
		QueueSize:          d.Listeners.QueueSize,
		ListenerGrace:      d.Listeners.Grace,
	}, c, registry)
	if err != nil {
		return nil, fmt.Errorf("creating discovery engine: %w", err)
	}
	engine.SetLogger(log.Component("discovery"))
	return engine, nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every enabled infrastructure connection.
// Disabled components are nil and skipped.
func healthCheck(ctx context.Context, components map[string]api.HealthChecker) error {
	for name, c := range components {
		if c == nil {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
