// Package api provides the HTTP REST API and WebSocket server for Smarthome Core.
//
// It exposes device operations, household-scoped real-time state updates,
// and authentication endpoints to user interfaces (mobile apps, web).
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

	"github.com/openhearth/smarthome-core/internal/audit"
	"github.com/openhearth/smarthome-core/internal/auth"
	"github.com/openhearth/smarthome-core/internal/device"
	"github.com/openhearth/smarthome-core/internal/household"
	"github.com/openhearth/smarthome-core/internal/infrastructure/config"
	"github.com/openhearth/smarthome-core/internal/infrastructure/logging"
	"github.com/openhearth/smarthome-core/internal/realtime"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Dispatcher publishes device commands and tracks the pending transition.
// Satisfied by *engine.Dispatcher; an interface here keeps handlers testable
// without a live broker.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceID, householdID, userID string, patch device.Data) (*device.Device, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Security      config.SecurityConfig
	Logger        *logging.Logger
	Users         auth.UserRepository
	RefreshTokens auth.RefreshTokenRepository
	Households    household.Repository
	Invitations   household.InvitationRepository
	Devices       device.Store
	Dispatcher    Dispatcher
	Hub           *realtime.Hub
	Audit         audit.Repository // optional; nil disables the audit trail
	Version       string
}

// Server is the HTTP API server for Smarthome Core.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket
// upgrade path into the realtime hub.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	users      auth.UserRepository
	refresh    auth.RefreshTokenRepository
	households household.Repository
	invites    household.InvitationRepository
	devices    device.Store
	dispatcher Dispatcher
	hub        *realtime.Hub
	auditor    audit.Repository
	version    string
	server     *http.Server
	tickets    *ticketStore
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if deps.RefreshTokens == nil {
		return nil, fmt.Errorf("refresh token repository is required")
	}
	if deps.Households == nil {
		return nil, fmt.Errorf("household repository is required")
	}
	if deps.Invitations == nil {
		return nil, fmt.Errorf("invitation repository is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("realtime hub is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger.With("component", "api"),
		users:      deps.Users,
		refresh:    deps.RefreshTokens,
		households: deps.Households,
		invites:    deps.Invitations,
		devices:    deps.Devices,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		auditor:    deps.Audit,
		version:    deps.Version,
		tickets:    newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Periodic ticket cleanup to prevent memory leaks
	go s.tickets.cleanLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
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

// recordAudit writes an audit entry when the audit trail is enabled.
// Audit is best-effort: a write failure is logged, never surfaced.
func (s *Server) recordAudit(ctx context.Context, entry *audit.Entry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", "action", entry.Action, "entity_id", entry.EntityID, "error", err)
	}
}

// canAccessHousehold reports whether the caller may act on a household.
// Admins bypass membership scoping; everyone else must be a member.
func (s *Server) canAccessHousehold(ctx context.Context, claims *auth.CustomClaims, householdID string) (bool, error) {
	if claims.Role == auth.RoleAdmin {
		return true, nil
	}
	return s.households.IsMember(ctx, householdID, claims.Subject)
}
