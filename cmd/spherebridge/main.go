// Sphere Bridge - local bridge for a cloud-managed smart-plug installation
//
// This is the main entry point for the Sphere Bridge service. It mirrors the
// cloud account into local caches, publishes devices and presence triggers
// to the home platform over MQTT, and serves a local HTTP control surface.
// Switch commands fall back to a short-range radio gateway when the cloud
// cannot be reached.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/sphere-bridge/migrations"

	"github.com/nerrad567/sphere-bridge/internal/api"
	"github.com/nerrad567/sphere-bridge/internal/audit"
	"github.com/nerrad567/sphere-bridge/internal/cloud"
	"github.com/nerrad567/sphere-bridge/internal/command"
	"github.com/nerrad567/sphere-bridge/internal/device"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/config"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/database"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/sphere-bridge/internal/keys"
	"github.com/nerrad567/sphere-bridge/internal/mapper"
	"github.com/nerrad567/sphere-bridge/internal/mirror"
	"github.com/nerrad567/sphere-bridge/internal/platform"
	"github.com/nerrad567/sphere-bridge/internal/presence"
	"github.com/nerrad567/sphere-bridge/internal/push"
	"github.com/nerrad567/sphere-bridge/internal/radio"
	"github.com/nerrad567/sphere-bridge/internal/sphere"
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

// initialLoginTimeout bounds the login and first refresh at startup.
const initialLoginTimeout = time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Sphere Bridge",
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

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
	mqttClient.SetLogger(log.With("component", "mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	b, err := wire(ctx, cfg, db, mqttClient, influxClient, log)
	if err != nil {
		return err
	}
	defer b.service.Close()

	if cfg.HasCredentials() {
		loginCtx, cancel := context.WithTimeout(ctx, initialLoginTimeout)
		if err := b.service.SetCredentials(loginCtx, cfg.Cloud.Email, cfg.Cloud.Password); err != nil {
			log.Error("initial login failed, waiting for credentials via API", "error", err)
		}
		cancel()
	} else {
		log.Info("no cloud credentials configured, waiting for credentials via API")
	}

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.With("component", "api"),
			Devices:  b.mapper.Cache(),
			Commands: b.dispatcher,
			Presence: b.presence,
			People:   b.store,
			Bridge:   b.service,
			Journal:  b.journal,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Run blocks until the shutdown signal.
	_ = b.service.Run(ctx)

	log.Info("shutdown signal received, cleaning up")
	log.Info("Sphere Bridge stopped")
	return nil
}

// bridge holds the wired components run needs after construction.
type bridge struct {
	journal    *audit.SQLiteRepository
	store      *presence.Store
	presence   *presence.Handler
	mapper     *mapper.Mapper
	dispatcher *command.Dispatcher
	service    *sphere.Service
}

// wire builds the caches, reconcilers, dispatcher and service on top of the
// infrastructure clients.
func wire(ctx context.Context, cfg *config.Config, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*bridge, error) {
	cloudClient := cloud.NewRESTClient(cfg.Cloud.BaseURL, time.Duration(cfg.Cloud.RequestTimeout)*time.Second)

	// Presence store, restored from the journal
	store := presence.NewStore()
	store.SetLogger(log.With("component", "presence"))
	store.SetRepository(presence.NewSQLiteRepository(db.DB))
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading presence journal: %w", err)
	}

	raw := mirror.NewRawCache()
	mir := mirror.New(cloudClient, raw, store)
	mir.SetLogger(log.With("component", "mirror"))

	mp := mapper.New(raw, store)
	mp.SetLogger(log.With("component", "mapper"))

	publisher := platform.NewPublisher(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS))
	reconciler := device.NewReconciler(mp.Cache(), publisher)
	reconciler.SetLogger(log.With("component", "device"))

	handler := presence.NewHandler(store, mir, publisher, mir.UserID)
	handler.SetLogger(log.With("component", "presence"))

	keyCache := keys.NewCache(cloudClient)
	keyCache.SetLogger(log.With("component", "keys"))

	var link radio.Link
	if cfg.Radio.Enabled {
		mqttLink := radio.NewMQTTLink(mqttClient, mqttClient.Topics(), cfg.Radio.Protocol,
			time.Duration(cfg.Radio.RequestTimeout)*time.Second)
		if err := mqttLink.Start(); err != nil {
			return nil, fmt.Errorf("starting radio link: %w", err)
		}
		link = mqttLink
		log.Info("radio fallback enabled", "protocol", cfg.Radio.Protocol)
	}

	dispatcher := command.NewDispatcher(cloudClient, mp.Cache(), mp, keyCache, link)
	dispatcher.SetLogger(log.With("component", "command"))
	dispatcher.SetDiscoveryTimeout(cfg.GetDiscoveryTimeout())

	journal := audit.NewSQLiteRepository(db.DB)
	journalRecorder := audit.NewRecorder(journal)
	journalRecorder.SetLogger(log.With("component", "audit"))
	dispatcher.AddRecorder(journalRecorder)

	if influxClient != nil {
		mir.SetRecorder(influxClient)
		store.SetRecorder(influxClient)
		dispatcher.AddRecorder(influxClient)
	}

	var stream sphere.Stream
	if cfg.Push.Enabled {
		pushClient := push.NewClient(push.Config{
			URL:          cfg.Push.URL,
			InitialDelay: time.Duration(cfg.Push.ReconnectInitialDelay) * time.Second,
			MaxDelay:     time.Duration(cfg.Push.ReconnectMaxDelay) * time.Second,
		})
		pushClient.SetLogger(log.With("component", "push"))
		stream = sphere.PushStream(pushClient)
	}

	service := sphere.New(mir, mp, reconciler, handler, stream, sphere.Config{
		FullInterval:     cfg.GetFullInterval(),
		PresenceInterval: cfg.GetPresenceInterval(),
	})
	service.SetLogger(log.With("component", "sphere"))

	// A reconnect may follow a broker restart that lost retained state.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing devices")
		reconciler.Reset()
		go func() {
			if err := publisher.RepublishCapabilities(); err != nil {
				log.Warn("republishing capabilities failed", "error", err)
			}
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initialLoginTimeout)
			defer cancel()
			if err := reconciler.UpdateDevices(rctx); err != nil {
				log.Warn("republishing devices failed", "error", err)
			}
		}()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	return &bridge{
		journal:    journal,
		store:      store,
		presence:   handler,
		mapper:     mp,
		dispatcher: dispatcher,
		service:    service,
	}, nil
}

// getConfigPath returns the configuration file path.
// Uses SPHEREBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SPHEREBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
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
