package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsintel/opsiq/pkg/errcode"
)

// listSettings handles GET /inspector/settings, returning the persisted
// overrides alongside the effective runtime settings.
func (s *Server) listSettings(c *gin.Context) {
	overrides, err := s.settingsStore.Load(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"overrides": overrides,
		"effective": s.settings,
	})
}

// putSettingRequest is the body of PUT /inspector/settings/:key.
type putSettingRequest struct {
	Value string `json:"value" binding:"required"`
}

// putSetting persists one override and applies it to the live settings.
func (s *Server) putSetting(c *gin.Context) {
	key := c.Param("key")
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errcode.Wrap(errcode.ValidationFailed, "invalid request body", err))
		return
	}

	// Reject unknown keys before persisting anything.
	probe := *s.settings
	if err := probe.ApplyOverride(key, req.Value); err != nil {
		writeError(c, errcode.Wrap(errcode.ValidationFailed, "invalid setting", err))
		return
	}
	if err := s.settingsStore.Upsert(c.Request.Context(), key, req.Value, actorOf(c)); err != nil {
		writeError(c, err)
		return
	}
	s.settings.ApplyOverrides(map[string]string{key: req.Value})
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}

// deleteSetting removes a persisted override. The in-memory value reverts on
// the next restart.
func (s *Server) deleteSetting(c *gin.Context) {
	if err := s.settingsStore.Delete(c.Request.Context(), c.Param("key")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
