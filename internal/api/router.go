package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/mindspace/group-meditation/docs"
	"github.com/mindspace/group-meditation/internal/api/handler"
	"github.com/mindspace/group-meditation/internal/api/middleware"
	"github.com/mindspace/group-meditation/internal/core/ports"
	"github.com/mindspace/group-meditation/internal/gateway"
)

const defaultSocketPath = "/meditation/group"

// Dependencies are the collaborators the HTTP surface needs.
type Dependencies struct {
	Log         zerolog.Logger
	Verifier    ports.CredentialVerifier
	Coordinator ports.GroupCoordinator
	Socket      *gateway.Server
	// Checks are run by the readiness probe, keyed by dependency name.
	Checks     map[string]handler.DependencyCheck
	SocketPath string
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)
	e.Validator = handler.NewValidator()

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Logger())
	e.Use(echoprometheus.NewMiddleware("meditation"))

	authMiddleware := middleware.Auth(deps.Verifier)

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(deps.Checks)

	e.GET("/health", healthHandler.Liveness)
	e.GET("/health/ready", healthDepsHandler.Readiness)

	// --- Operations ---
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// --- Groups ---
	groupHandler := handler.NewGroupHandler(deps.Coordinator)
	v1 := e.Group("/v1", authMiddleware)
	v1.GET("/groups/:group_id", groupHandler.Snapshot)

	// --- Websocket ---
	path := deps.SocketPath
	if path == "" {
		path = defaultSocketPath
	}
	socketHandler := handler.NewSocketHandler(deps.Socket)
	e.GET(path, socketHandler.Connect, authMiddleware)

	return e
}
