package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsintel/opsiq/pkg/breaker"
	"github.com/opsintel/opsiq/pkg/database"
	"github.com/opsintel/opsiq/pkg/version"
)

// Health status values.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// health reports readiness. An unreachable database makes the service
// unhealthy (503); an open circuit breaker only degrades it.
func (s *Server) health(c *gin.Context) {
	checks := map[string]string{}
	status := statusHealthy

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if _, err := database.Health(ctx, s.db.DB()); err != nil {
		checks["database"] = "unreachable: " + err.Error()
		status = statusUnhealthy
	} else {
		checks["database"] = "ok"
	}

	open := 0
	for _, stats := range s.breakers.AllStats() {
		if stats.State == breaker.StateOpen {
			open++
		}
	}
	if open > 0 {
		checks["breakers"] = "open circuits present"
		if status == statusHealthy {
			status = statusDegraded
		}
	} else {
		checks["breakers"] = "ok"
	}

	code := http.StatusOK
	if status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}

// versionInfo handles GET /version.
func (s *Server) versionInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    version.AppName,
		"version": version.Full(),
	})
}

// breakerStats handles GET /inspector/breakers.
func (s *Server) breakerStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.breakers.AllStats()})
}

// resetBreaker handles POST /inspector/breakers/:name/reset.
func (s *Server) resetBreaker(c *gin.Context) {
	name := c.Param("name")
	s.breakers.Reset(name)
	c.JSON(http.StatusOK, gin.H{"reset": name})
}

// resetAllBreakers handles POST /inspector/breakers/reset.
func (s *Server) resetAllBreakers(c *gin.Context) {
	s.breakers.ResetAll()
	c.JSON(http.StatusOK, gin.H{"reset": "all"})
}
