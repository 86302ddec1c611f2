// Package api provides the HTTP REST API and WebSocket server for EquipWatch Core.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/equipwatch-core/internal/audit"
	"github.com/nerrad567/equipwatch-core/internal/auth"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/equipwatch-core/internal/infrastructure/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Database is the subset of the database handle the API reports on.
// *database.DB satisfies it.
type Database interface {
	HealthCheck(ctx context.Context) error
	SchemaVersion(ctx context.Context) (string, error)
	Stats() sql.DBStats
}

// ConnectionStatus reports whether an optional broker link is up.
// *mqtt.Client and *influxdb.Client satisfy it.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	DB          Database // optional: health and system metrics
	Credentials *auth.CredentialStore
	Sessions    *auth.SessionManager
	Access      *auth.AccessController
	Audit       *audit.Log
	Metrics     *metrics.Registry // optional: /metrics and HTTP instrumentation
	MQTT        ConnectionStatus  // optional
	InfluxDB    ConnectionStatus  // optional
	Version     string
}

// Server is the HTTP API server for EquipWatch Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	db        Database
	creds     *auth.CredentialStore
	sessions  *auth.SessionManager
	access    *auth.AccessController
	audit     *audit.Log
	metrics   *metrics.Registry
	mqtt      ConnectionStatus
	influx    ConnectionStatus
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	feedCheck time.Duration      // how often feed connections re-check their session
	limiter   *ipLimiter         // nil when login rate limiting is disabled
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Access == nil {
		return nil, fmt.Errorf("access controller is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit log is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger.With("component", "api"),
		db:        deps.DB,
		creds:     deps.Credentials,
		sessions:  deps.Sessions,
		access:    deps.Access,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		mqtt:      deps.MQTT,
		influx:    deps.InfluxDB,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
		feedCheck: defaultFeedSessionCheck,
	}
	s.hub = NewHub(s.logger)

	if rl := deps.Security.RateLimit; rl.Enabled {
		s.limiter = newIPLimiter(rl.LoginPerMinute, rl.Burst)
	}

	return s, nil
}

// Hub returns the WebSocket hub that relays audit entries.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It attaches the WebSocket hub to the audit log, starts ticket and rate
// limiter housekeeping, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.audit.AddSink(s.hub)

	go s.cleanTicketsLoop(srvCtx)
	if s.limiter != nil {
		go s.limiter.pruneLoop(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
