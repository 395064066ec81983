package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	"wikirelay/pkg/health"
	"wikirelay/pkg/middleware"
	"wikirelay/pkg/tracing"
)

// OpsServer exposes /health and /metrics for one service.
type OpsServer struct {
	server *http.Server
	router *gin.Engine
	logger logger.Logger
	port   int
}

func NewOpsServer(cfg *config.Config, serviceName string, registry *health.CheckerRegistry, log logger.Logger) *OpsServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())

	router.GET("/health", HealthHandler(registry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &OpsServer{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeoutSeconds * time.Second,
			WriteTimeout: cfg.Server.WriteTimeoutSeconds * time.Second,
		},
		router: router,
		logger: log,
		port:   cfg.Server.Port,
	}
}

// HealthHandler answers 503 only when a required check fails; degraded stays 200.
func HealthHandler(registry *health.CheckerRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.HealthCheckTimeout)
		defer cancel()

		h := registry.Check(ctx)
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	}
}

func (s *OpsServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until Shutdown is called or the listener fails.
func (s *OpsServer) ListenAndServe(ctx context.Context) error {
	s.logger.InfowCtx(ctx, "Ops server listening", "port", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server error: %w", err)
	}
	return nil
}

func (s *OpsServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("ops server shutdown error: %w", err)
	}
	return nil
}
