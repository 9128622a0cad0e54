package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// getTrace handles GET /inspector/traces/:trace_id, returning the full
// causal trace of one answered question.
func (s *Server) getTrace(c *gin.Context) {
	trace, err := s.traces.Get(c.Request.Context(), c.Param("trace_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trace)
}

// listTraces handles GET /inspector/traces with q, tenant_id, from, to,
// limit, and offset query parameters. Only headers are returned.
func (s *Server) listTraces(c *gin.Context) {
	filters := models.TraceFilters{
		TenantID: c.Query("tenant_id"),
		Query:    c.Query("q"),
		Limit:    intQuery(c, "limit"),
		Offset:   intQuery(c, "offset"),
	}
	var err error
	if filters.From, err = timeQuery(c, "from"); err != nil {
		writeError(c, err)
		return
	}
	if filters.To, err = timeQuery(c, "to"); err != nil {
		writeError(c, err)
		return
	}

	resp, err := s.traces.List(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// listHistory handles GET /inspector/history?tenant_id=...&limit=...
func (s *Server) listHistory(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		writeError(c, errcode.New(errcode.ValidationFailed, "tenant_id is required"))
		return
	}
	entries, err := s.traces.ListHistory(c.Request.Context(), tenantID, intQuery(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func timeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errcode.Newf(errcode.ValidationFailed,
			"%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}
