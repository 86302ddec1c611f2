// EquipWatch Core - Authentication and Authorisation Service
//
// This is the main entry point for the EquipWatch Core application. It owns
// user accounts, sessions, role-based permissions and the security audit
// trail for the EquipWatch maintenance platform.
//
// Startup order: configuration, logging, database and migrations, audit log,
// sessions and credentials, optional MQTT and InfluxDB audit sinks, then the
// HTTP API. Shutdown runs in reverse on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/equipwatch-core/migrations"

	"github.com/nerrad567/equipwatch-core/internal/api"
	"github.com/nerrad567/equipwatch-core/internal/audit"
	"github.com/nerrad567/equipwatch-core/internal/auth"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/metrics"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

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
	log.Info("starting EquipWatch Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // best-effort on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.FromConfig(cfg.Database))
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

	svc := buildServices(cfg, db, log)

	sinks, err := connectSinks(cfg, svc, log)
	if err != nil {
		return err
	}
	defer sinks.close(log)

	// Workers stop after the API server has closed (defers run in reverse).
	workersCtx, stopWorkers := context.WithCancel(context.Background())
	auditDone := make(chan struct{})
	go func() {
		svc.audit.Run(workersCtx)
		close(auditDone)
	}()
	go svc.sessions.RunSweeper(workersCtx)
	defer func() {
		stopWorkers()
		<-auditDone
	}()

	if cfg.Security.Bootstrap.SeedAdmin {
		if _, seedErr := svc.creds.SeedAdmin(ctx); seedErr != nil {
			return fmt.Errorf("seeding admin account: %w", seedErr)
		}
	}

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		DB:          db,
		Credentials: svc.creds,
		Sessions:    svc.sessions,
		Access:      svc.access,
		Audit:       svc.audit,
		Metrics:     svc.metrics,
		MQTT:        sinks.mqttStatus(),
		InfluxDB:    sinks.influxStatus(),
		Version:     version,
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

	if err := healthCheck(ctx, db, sinks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// services bundles the auth and audit components.
type services struct {
	audit    *audit.Log
	sessions *auth.SessionManager
	creds    *auth.CredentialStore
	access   *auth.AccessController
	metrics  *metrics.Registry
}

// buildServices wires repositories, hasher, sessions, credentials and the
// access controller over db.
func buildServices(cfg *config.Config, db *database.DB, log *logging.Logger) *services {
	clock := auth.SystemClock{}

	auditLog := audit.NewLog(audit.LogConfig{
		Repository: audit.NewSQLiteRepository(db.DB),
		Logger:     log.Logger,
		Now:        clock.Now,
	})

	reg := metrics.New()
	if cfg.Audit.Metrics {
		auditLog.AddSink(audit.NewCounterSink(reg))
	}

	sessions := auth.NewSessionManager(auth.SessionManagerOptions{
		Store:  auth.NewSessionStore(db.DB),
		Clock:  clock,
		Audit:  auditLog,
		Logger: log.Logger,
		Config: auth.SessionConfig{
			IdleTimeout:   cfg.Security.Sessions.IdleTimeout,
			MaxLifetime:   cfg.Security.Sessions.MaxLifetime,
			SweepInterval: cfg.Security.Sessions.SweepInterval,
		},
	})

	creds := auth.NewCredentialStore(auth.CredentialStoreOptions{
		Users:              auth.NewUserRepository(db.DB),
		Hasher:             auth.NewHasher(cfg.Security.Password.Iterations),
		Sessions:           sessions,
		Clock:              clock,
		Audit:              auditLog,
		Logger:             log.Logger,
		MinPasswordLength:  cfg.Security.Password.MinLength,
		RevokeOnDeactivate: cfg.Security.Sessions.RevokeOnDeactivate,
	})

	return &services{
		audit:    auditLog,
		sessions: sessions,
		creds:    creds,
		access:   auth.NewAccessController(sessions, auditLog, log.Logger),
		metrics:  reg,
	}
}

// auditSinks holds the optional broker connections feeding the audit trail.
type auditSinks struct {
	mqtt   *mqtt.Client
	influx *influxdb.Client
}

// connectSinks connects MQTT and InfluxDB when enabled and registers them
// as audit sinks according to the audit section.
func connectSinks(cfg *config.Config, c *services, log *logging.Logger) (*auditSinks, error) {
	s := &auditSinks{}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		client.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		s.mqtt = client
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		if cfg.Audit.MQTT {
			c.audit.AddSink(audit.NewMQTTSink(client, cfg.Audit.TopicPrefix))
			log.Info("audit entries published to MQTT", "topic_prefix", cfg.Audit.TopicPrefix)
		}
	} else {
		log.Info("MQTT disabled")
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		s.close(log)
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		s.influx = client
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		if cfg.Audit.InfluxDB {
			c.audit.AddSink(audit.NewPointSink(client))
			log.Info("audit entries written to InfluxDB")
		}
	}

	return s, nil
}

// mqttStatus returns the MQTT client as a status reporter, or nil.
func (s *auditSinks) mqttStatus() api.ConnectionStatus {
	if s.mqtt == nil {
		return nil
	}
	return s.mqtt
}

// influxStatus returns the InfluxDB client as a status reporter, or nil.
func (s *auditSinks) influxStatus() api.ConnectionStatus {
	if s.influx == nil {
		return nil
	}
	return s.influx
}

// close disconnects every connected sink.
func (s *auditSinks) close(log *logging.Logger) {
	if s.influx != nil {
		log.Info("closing InfluxDB connection")
		if err := s.influx.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
	}
	if s.mqtt != nil {
		log.Info("disconnecting from MQTT")
		if err := s.mqtt.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}
}

// healthCheck verifies the database and every connected sink.
func healthCheck(ctx context.Context, db *database.DB, s *auditSinks) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if s.mqtt != nil {
		if err := s.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if s.influx != nil {
		if err := s.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
