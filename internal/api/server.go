package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/beacon-fence-core/internal/beacon"
	"github.com/nerrad567/beacon-fence-core/internal/bridges/scanner"
	"github.com/nerrad567/beacon-fence-core/internal/dispatch"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/config"
	"github.com/nerrad567/beacon-fence-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// FenceService is the controller surface exposed over HTTP.
// *fence.Controller implements it.
type FenceService interface {
	Initialize(ctx context.Context, dispatcherHandle int64) error
	CreateBeacon(ctx context.Context, def beacon.Definition) error
	RemoveBeaconByID(ctx context.Context, id string) error
	RemoveAllBeacons(ctx context.Context) error
	BeaconIDs(ctx context.Context) ([]string, error)
	Beacons(ctx context.Context) ([]beacon.ActiveBeacon, error)
	ConfigureScanner(ctx context.Context, settings beacon.ScannerSettings) error
}

// ScannerStatus reports the scanner link. *scanner.Bridge implements it.
type ScannerStatus interface {
	Status() scanner.Status
}

// DispatchStats reports dispatcher counters. *dispatch.Dispatcher implements it.
type DispatchStats interface {
	Stats() dispatch.Stats
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Fences   FenceService
	Scanner  ScannerStatus // optional
	Dispatch DispatchStats // optional

	// Hub, when set, is used instead of a server-owned hub so the fence
	// pipeline can publish into it before the server starts.
	Hub     *Hub
	Version string
}

// Server is the HTTP API and live event feed.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	fences   FenceService
	scanner  ScannerStatus
	dispatch DispatchStats
	version  string

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Fences == nil {
		return nil, fmt.Errorf("fence service is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		fences:   deps.Fences,
		scanner:  deps.Scanner,
		dispatch: deps.Dispatch,
		version:  deps.Version,
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}
	if s.secCfg.JWT.Secret == "" {
		s.logger.Warn("API authentication disabled: no security.jwt.secret configured")
	}
	return s, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       config.Seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: config.Seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      config.Seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       config.Seconds(s.cfg.Timeouts.Idle),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Hub returns the live feed hub. It is nil before Start unless injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close shuts the server down, waiting up to gracefulShutdownTimeout.
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

// HealthCheck reports whether the server has been started.
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
