// Package api provides the local HTTP control surface for Sphere Bridge.
//
// It exposes the FastCache, device commands, presence queries, trigger
// registration and the credential lifecycle to the home platform and to
// operators on the local network.
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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/sphere-bridge/internal/audit"
	"github.com/nerrad567/sphere-bridge/internal/command"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/config"
	"github.com/nerrad567/sphere-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/sphere-bridge/internal/mapper"
	"github.com/nerrad567/sphere-bridge/internal/presence"
	"github.com/nerrad567/sphere-bridge/internal/sphere"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceReader reads the FastCache.
type DeviceReader interface {
	Load() *mapper.Snapshot
	Device(id string) (mapper.Device, bool)
}

// Commander sends device commands.
type Commander interface {
	SetOnOff(ctx context.Context, deviceID string, on bool) command.Result
	SetDim(ctx context.Context, deviceID string, fraction float64) command.Result
}

// PresenceService answers presence queries and manages triggers.
type PresenceService interface {
	EvaluateCondition(ctx context.Context, roomID, roomName string) (bool, error)
	Register(t presence.Trigger) presence.Trigger
	Unregister(id string) bool
	Triggers() []presence.Trigger
}

// PresenceReader lists stored user presence.
type PresenceReader interface {
	All() []presence.UserPresence
}

// Bridge is the credential and refresh lifecycle.
type Bridge interface {
	SetCredentials(ctx context.Context, email, password string) error
	Refresh(ctx context.Context) error
	Status() sphere.Status
}

// JournalReader lists journalled commands.
type JournalReader interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Devices  DeviceReader
	Commands Commander
	Presence PresenceService
	People   PresenceReader
	Bridge   Bridge
	Journal  JournalReader // optional; /commands answers 503 without it
	Version  string
}

// Server is the HTTP API server for Sphere Bridge.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	devices  DeviceReader
	commands Commander
	presence PresenceService
	people   PresenceReader
	bridge   Bridge
	journal  JournalReader
	version  string
	server   *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device cache is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}
	if deps.Presence == nil || deps.People == nil {
		return nil, fmt.Errorf("presence handler and store are required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge service is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		devices:  deps.Devices,
		commands: deps.Commands,
		presence: deps.Presence,
		people:   deps.People,
		bridge:   deps.Bridge,
		journal:  deps.Journal,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
