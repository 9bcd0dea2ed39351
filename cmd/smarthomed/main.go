// Smarthome Core - Device State Synchronization Engine
//
// This is the main entry point for the Smarthome Core daemon. It wires
// the HTTP API, the MQTT command/status bus, the SQLite device store and
// the WebSocket fan-out hub into a single process:
//
//	PATCH /devices/{id} -> command published to MQTT -> device record pending
//	device status report -> reconciled into the store -> household fan-out
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openhearth/smarthome-core/internal/api"
	"github.com/openhearth/smarthome-core/internal/audit"
	"github.com/openhearth/smarthome-core/internal/auth"
	"github.com/openhearth/smarthome-core/internal/device"
	"github.com/openhearth/smarthome-core/internal/engine"
	"github.com/openhearth/smarthome-core/internal/household"
	"github.com/openhearth/smarthome-core/internal/infrastructure/config"
	"github.com/openhearth/smarthome-core/internal/infrastructure/database"
	"github.com/openhearth/smarthome-core/internal/infrastructure/influxdb"
	"github.com/openhearth/smarthome-core/internal/infrastructure/logging"
	"github.com/openhearth/smarthome-core/internal/infrastructure/mqtt"
	"github.com/openhearth/smarthome-core/internal/realtime"
	"github.com/openhearth/smarthome-core/migrations"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Smarthome Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	// Apply the embedded schema migrations
	if migrateErr := db.Migrate(ctx, migrations.Files); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	userRepo := auth.NewUserRepository(db.DB)
	refreshRepo := auth.NewRefreshTokenRepository(db.DB)
	householdRepo := household.NewSQLiteRepository(db.DB)
	inviteRepo := household.NewInvitationRepository(db.DB)
	deviceStore := device.NewSQLiteStore(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Seed the initial admin account on a fresh database.
	// The generated password is logged inside SeedAdmin.
	if _, seedErr := auth.SeedAdmin(ctx, userRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	// Hourly sweep of expired refresh tokens and invitations. Consume
	// already burns stale rows on touch; this catches the never-touched.
	go expiryCleanup(ctx, refreshRepo, inviteRepo, log)

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

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional telemetry sink)
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

	// WebSocket hub: household-scoped fan-out of device events
	hub := realtime.NewHub(log)
	go hub.Run(ctx)

	qos := byte(cfg.MQTT.QoS)

	// Command dispatcher: API writes -> MQTT commands + pending state
	dispatcher := engine.NewDispatcher(deviceStore, householdRepo, mqttClient, hub, qos, log)
	dispatcher.SetAudit(auditRepo)

	// Status reconciler: MQTT status reports -> store merge + fan-out.
	// The typed-nil dance matters here: assigning a nil *influxdb.Client
	// directly would make the interface non-nil.
	var metrics engine.MetricsWriter
	if influxClient != nil {
		metrics = influxClient
	}
	reconciler := engine.NewReconciler(deviceStore, mqttClient, hub, metrics, qos, log)
	if startErr := reconciler.Start(ctx); startErr != nil {
		return fmt.Errorf("starting status reconciler: %w", startErr)
	}

	// HTTP API server
	apiServer, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Logger:        log,
		Users:         userRepo,
		RefreshTokens: refreshRepo,
		Households:    householdRepo,
		Invitations:   inviteRepo,
		Devices:       deviceStore,
		Dispatcher:    dispatcher,
		Hub:           hub,
		Audit:         auditRepo,
		Version:       version,
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

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("Smarthome Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SMARTHOME_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SMARTHOME_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// expiryCleanupInterval is how often expired credentials are swept.
const expiryCleanupInterval = time.Hour

// expiryCleanup periodically deletes expired refresh tokens and
// invitations until the context is cancelled.
func expiryCleanup(ctx context.Context, refresh auth.RefreshTokenRepository, invites household.InvitationRepository, log *logging.Logger) {
	ticker := time.NewTicker(expiryCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := refresh.DeleteExpired(ctx); err != nil {
				log.Warn("refresh token cleanup failed", "error", err)
			} else if n > 0 {
				log.Debug("expired refresh tokens removed", "count", n)
			}
			if n, err := invites.DeleteExpired(ctx); err != nil {
				log.Warn("invitation cleanup failed", "error", err)
			} else if n > 0 {
				log.Debug("expired invitations removed", "count", n)
			}
		}
	}
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
