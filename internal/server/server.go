package server

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/checkops/bank-connector/internal/config"
	"github.com/checkops/bank-connector/internal/handler"
	"github.com/checkops/bank-connector/internal/middleware"
	"github.com/checkops/bank-connector/pkg/logger"
)

type Server struct {
	echo          *echo.Echo
	cfg           *config.Config
	logger        *logger.Logger
	batchHandler  *handler.BatchHandler
	configHandler *handler.ConfigHandler
	healthHandler *handler.HealthHandler
}

func New(
	cfg *config.Config,
	log *logger.Logger,
	batchHandler *handler.BatchHandler,
	configHandler *handler.ConfigHandler,
	healthHandler *handler.HealthHandler,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &Server{
		echo:          e,
		cfg:           cfg,
		logger:        log,
		batchHandler:  batchHandler,
		configHandler: configHandler,
		healthHandler: healthHandler,
	}
}

func (s *Server) Start() error {
	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info(context.Background(), "Starting HTTP server",
		"address", addr,
	)

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echoMiddleware.Recover())
	s.echo.Use(echoMiddleware.CORS())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.Logging(s.logger))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler.Check)

	api := s.echo.Group("/api")

	api.POST("/batches", s.batchHandler.Build)
	api.GET("/batches", s.batchHandler.ListBatches)
	api.GET("/batches/:id", s.batchHandler.GetBatch)
	api.POST("/batches/:id/approve", s.batchHandler.Approve)
	api.POST("/batches/:id/cancel", s.batchHandler.Cancel)
	api.POST("/batches/:id/file", s.batchHandler.Generate)
	api.GET("/batches/:id/file", s.batchHandler.GetFile)
	api.POST("/batches/:id/delivered", s.batchHandler.MarkDelivered)
	api.POST("/batches/:id/acknowledgements", s.batchHandler.IngestAcknowledgement)
	api.POST("/batches/:id/reconcile", s.batchHandler.Reconcile)
	api.GET("/batches/:id/report", s.batchHandler.GetReport)

	api.POST("/records/:id/resolve", s.batchHandler.ResolveRecord)

	api.PUT("/tenants/:tenantId/config", s.configHandler.Upsert)
	api.GET("/tenants/:tenantId/config", s.configHandler.Get)
}

func (s *Server) Handler() *echo.Echo {
	s.setupMiddleware()
	s.setupRoutes()
	return s.echo
}
