package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsintel/opsiq/pkg/assets"
	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/trace"
)

// writeError maps an error to an HTTP status for the non-ask endpoints.
// The ask endpoints never use this: they fold failures into the answer meta.
func writeError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": gin.H{
		"code":    string(errorCode(err)),
		"message": err.Error(),
	}})
}

func errorCode(err error) errcode.Code {
	switch {
	case errors.Is(err, assets.ErrNotFound), errors.Is(err, trace.ErrNotFound):
		return errcode.NotFound
	case errors.Is(err, assets.ErrNotDraft):
		return errcode.Conflict
	case errors.Is(err, assets.ErrSystemAsset):
		return errcode.PermissionDenied
	}
	return errcode.CodeOf(err)
}

func httpStatus(err error) int {
	switch errorCode(err) {
	case errcode.NotFound, errcode.DataNotFound, errcode.QueryNotFound, errcode.ToolNotFound:
		return http.StatusNotFound
	case errcode.ValidationFailed, errcode.InvalidParams, errcode.ToolBadRequest,
		errcode.PlanInvalid, errcode.SQLBlocked:
		return http.StatusBadRequest
	case errcode.Conflict:
		return http.StatusConflict
	case errcode.PolicyDeny, errcode.PermissionDenied, errcode.TenantMismatch:
		return http.StatusForbidden
	case errcode.AuthFailed:
		return http.StatusUnauthorized
	case errcode.RateLimited:
		return http.StatusTooManyRequests
	case errcode.UpstreamUnavail, errcode.ConnectionError, errcode.CircuitOpen:
		return http.StatusBadGateway
	case errcode.ToolTimeout, errcode.PlanTimeout, errcode.ExecuteTimeout, errcode.ComposeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
