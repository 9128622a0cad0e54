// Package api exposes the HTTP surface: the ask endpoints, the trace
// inspector, asset authoring, and operational endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/breaker"
	"github.com/opsintel/opsiq/pkg/config"
	"github.com/opsintel/opsiq/pkg/database"
	"github.com/opsintel/opsiq/pkg/pipeline"
	"github.com/opsintel/opsiq/pkg/trace"
)

// Server wires handlers to their backing services.
type Server struct {
	pipeline      *pipeline.Pipeline
	assets        *assets.Service
	traces        *trace.Store
	db            *database.Client
	breakers      *breaker.Manager
	settings      *config.Settings
	settingsStore *database.SettingsStore
}

// NewServer creates the API server.
func NewServer(p *pipeline.Pipeline, assetSvc *assets.Service, traces *trace.Store,
	db *database.Client, breakers *breaker.Manager, settings *config.Settings,
	settingsStore *database.SettingsStore) *Server {
	return &Server{
		pipeline:      p,
		assets:        assetSvc,
		traces:        traces,
		db:            db,
		breakers:      breakers,
		settings:      settings,
		settingsStore: settingsStore,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", s.health)
	router.GET("/version", s.versionInfo)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ops := router.Group("/ops")
	{
		ops.POST("/ask", s.ask)
		ops.POST("/ask/stream", s.askStream)
	}

	inspector := router.Group("/inspector")
	{
		inspector.GET("/traces", s.listTraces)
		inspector.GET("/traces/:trace_id", s.getTrace)
		inspector.GET("/history", s.listHistory)
		inspector.GET("/breakers", s.breakerStats)
		inspector.POST("/breakers/:name/reset", s.resetBreaker)
		inspector.POST("/breakers/reset", s.resetAllBreakers)
		inspector.GET("/settings", s.listSettings)
		inspector.PUT("/settings/:key", s.putSetting)
		inspector.DELETE("/settings/:key", s.deleteSetting)
	}

	assetGroup := router.Group("/assets/:type")
	{
		assetGroup.GET("", s.listAssets)
		assetGroup.POST("", s.createAsset)
		assetGroup.GET("/:id", s.getAsset)
		assetGroup.PUT("/:id", s.updateAsset)
		assetGroup.DELETE("/:id", s.deleteAsset)
		assetGroup.POST("/:id/publish", s.publishAsset)
		assetGroup.POST("/:id/rollback", s.rollbackAsset)
		assetGroup.GET("/:id/audit", s.listAudit)
	}

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds())
	}
}
