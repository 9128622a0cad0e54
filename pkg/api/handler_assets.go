package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// assetType validates the :type path segment.
func assetType(c *gin.Context) (models.AssetType, bool) {
	typ := models.AssetType(c.Param("type"))
	for _, valid := range models.ValidAssetTypes {
		if typ == valid {
			return typ, true
		}
	}
	writeError(c, errcode.Newf(errcode.ValidationFailed, "unknown asset type %q", typ))
	return "", false
}

// listAssets handles GET /assets/:type.
func (s *Server) listAssets(c *gin.Context) {
	typ, ok := assetType(c)
	if !ok {
		return
	}
	filters := models.AssetFilters{
		Type:     typ,
		Scope:    c.Query("scope"),
		Name:     c.Query("name"),
		TenantID: c.Query("tenant_id"),
		Status:   models.AssetStatus(c.Query("status")),
		ToolType: c.Query("tool_type"),
		Limit:    intQuery(c, "limit"),
		Offset:   intQuery(c, "offset"),
	}
	resp, err := s.assets.List(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// createAsset handles POST /assets/:type, creating a draft.
func (s *Server) createAsset(c *gin.Context) {
	typ, ok := assetType(c)
	if !ok {
		return
	}
	var req models.CreateAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errcode.Wrap(errcode.ValidationFailed, "invalid request body", err))
		return
	}
	req.Type = typ
	asset, err := s.assets.CreateDraft(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

// getAsset handles GET /assets/:type/:id.
func (s *Server) getAsset(c *gin.Context) {
	if _, ok := assetType(c); !ok {
		return
	}
	asset, err := s.assets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// updateAsset handles PUT /assets/:type/:id, replacing a draft's content.
func (s *Server) updateAsset(c *gin.Context) {
	if _, ok := assetType(c); !ok {
		return
	}
	var req models.UpdateAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errcode.Wrap(errcode.ValidationFailed, "invalid request body", err))
		return
	}
	asset, err := s.assets.UpdateDraft(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// deleteAsset handles DELETE /assets/:type/:id.
func (s *Server) deleteAsset(c *gin.Context) {
	if _, ok := assetType(c); !ok {
		return
	}
	if err := s.assets.Delete(c.Request.Context(), c.Param("id"), actorOf(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// publishAsset handles POST /assets/:type/:id/publish.
func (s *Server) publishAsset(c *gin.Context) {
	if _, ok := assetType(c); !ok {
		return
	}
	asset, err := s.assets.Publish(c.Request.Context(), c.Param("id"), actorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// rollbackRequest is the body of a rollback call.
type rollbackRequest struct {
	TargetVersion int    `json:"target_version" binding:"required"`
	Actor         string `json:"actor,omitempty"`
}

// rollbackAsset handles POST /assets/:type/:id/rollback. The target version's
// content is republished as a new, higher version.
func (s *Server) rollbackAsset(c *gin.Context) {
	if _, ok := assetType(c); !ok {
		return
	}
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errcode.Wrap(errcode.ValidationFailed, "invalid request body", err))
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = actorOf(c)
	}
	asset, err := s.assets.Rollback(c.Request.Context(), c.Param("id"), req.TargetVersion, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// listAudit handles GET /assets/:type/:id/audit.
func (s *Server) listAudit(c *gin.Context) {
	typ, ok := assetType(c)
	if !ok {
		return
	}
	events, err := s.assets.ListAudit(c.Request.Context(), string(typ), intQuery(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func actorOf(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}

func intQuery(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
