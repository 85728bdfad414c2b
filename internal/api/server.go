package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/command"
	"github.com/nerrad567/keygate/internal/infrastructure/config"
	"github.com/nerrad567/keygate/internal/infrastructure/database"
	"github.com/nerrad567/keygate/internal/infrastructure/influxdb"
	"github.com/nerrad567/keygate/internal/infrastructure/logging"
	"github.com/nerrad567/keygate/internal/infrastructure/mqtt"
	"github.com/nerrad567/keygate/internal/presence"
	"github.com/nerrad567/keygate/internal/vault"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Presence config.PresenceConfig
	Logger   *logging.Logger
	Auth     *auth.Service
	Registry *presence.Registry
	Vault    *vault.Vault

	// Optional.
	AuditRepo audit.Repository
	DB        *database.DB
	MQTT      *mqtt.Client
	Influx    *influxdb.Client
	Clock     func() time.Time
	Version   string

	// MaxBodySize caps request bodies; zero uses defaultMaxBodySize.
	MaxBodySize int64
}

// Server is the HTTP API server for keygate.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	presCfg   config.PresenceConfig
	logger    *logging.Logger
	auth      *auth.Service
	registry  *presence.Registry
	vault     *vault.Vault
	auditRepo audit.Repository
	audit     *audit.Recorder
	db        *database.DB
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	clock     func() time.Time
	version   string
	maxBody   int64
	startTime time.Time

	hub     *Hub
	router  *command.Router
	handler http.Handler
	server  *http.Server
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server. It is not listening until Start is called.
//
// Parameters:
//   - deps: Server collaborators; Logger, Auth, Registry and Vault are required
//
// Returns:
//   - *Server: Configured server with routes mounted
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Auth == nil:
		return nil, errors.New("auth service is required")
	case deps.Registry == nil:
		return nil, errors.New("presence registry is required")
	case deps.Vault == nil:
		return nil, errors.New("vault is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		presCfg:   deps.Presence,
		logger:    deps.Logger,
		auth:      deps.Auth,
		registry:  deps.Registry,
		vault:     deps.Vault,
		auditRepo: deps.AuditRepo,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		clock:     deps.Clock,
		version:   deps.Version,
		maxBody:   deps.MaxBodySize,
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodySize
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.startTime = s.clock()

	if s.auditRepo != nil {
		s.audit = audit.NewRecorder(s.auditRepo, s.logger, audit.DefaultQueueSize)
	}

	var mirror EventMirror
	if s.mqtt != nil {
		mirror = s.mqtt
	}
	s.hub = NewHub(s.wsCfg, s.logger, mirror)
	s.hub.onMessage = s.handleWSMessage
	s.hub.onClose = s.handleWSClose

	var telemetry command.Telemetry
	if s.influx != nil {
		telemetry = s.influx
	}
	router, err := command.New(command.Deps{
		Hub:       s.hub,
		Presence:  s.registry,
		Accounts:  s.auth,
		Sessions:  s.auth.Sessions(),
		Keys:      s.vault,
		Audit:     s.audit,
		Telemetry: telemetry,
		Logger:    s.logger,
		Clock:     s.clock,
	})
	if err != nil {
		return nil, err
	}
	s.router = router
	s.handler = s.buildRouter()

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start launches the background loops and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
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

// startBackground runs the hub, the audit writer and the sweeper until
// Close or ctx cancellation.
func (s *Server) startBackground(ctx context.Context) {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	if s.audit != nil {
		go s.audit.Run(srvCtx)
	}
	go s.sweepLoop(srvCtx)
}

// Close gracefully shuts down the API server, waiting up to
// gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
