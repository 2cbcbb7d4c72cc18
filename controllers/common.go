package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkinhub/middleware"
	"github.com/cppla/checkinhub/services"
	"github.com/cppla/checkinhub/utils"
)

// getUserID reads the authenticated user id placed by the auth middleware.
func getUserID(ctx *gin.Context) (uint, bool) {
	v, ok := ctx.Get(middleware.ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// parseDate converts a YYYY-MM-DD label back into its logical day number,
// the inverse of Calendar.FormatDay.
func parseDate(s string) (int64, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, err
	}
	return t.Unix() / 86400, nil
}

// serviceError maps the service error taxonomy onto the JSON envelope.
// Every business error carries a stable code the frontend can match on;
// only 503 responses are worth retrying.
func serviceError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAlreadyCheckedIn):
		utils.Error(ctx, http.StatusBadRequest, 40030, "already checked in for this day")
	case errors.Is(err, services.ErrInsufficientBalance):
		utils.Error(ctx, http.StatusBadRequest, 40031, "insufficient point balance")
	case errors.Is(err, services.ErrOutOfWindow):
		utils.Error(ctx, http.StatusBadRequest, 40032, "day is outside the allowed window")
	case errors.Is(err, services.ErrInvalidAmount):
		utils.Error(ctx, http.StatusBadRequest, 40033, "invalid amount")
	case errors.Is(err, services.ErrInvalidGroupName):
		utils.Error(ctx, http.StatusBadRequest, 40036, "invalid group name")
	case errors.Is(err, services.ErrInvalidCapability):
		utils.Error(ctx, http.StatusBadRequest, 40037, "unknown capability")
	case errors.Is(err, services.ErrPermissionDenied):
		utils.Error(ctx, http.StatusForbidden, 40301, "permission denied")
	case errors.Is(err, services.ErrTransferDisabled):
		utils.Error(ctx, http.StatusForbidden, 40330, "transfers are disabled")
	case errors.Is(err, services.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, 40401, "not found")
	case errors.Is(err, services.ErrEmailTaken):
		utils.Error(ctx, http.StatusConflict, 40901, "email already bound by another user")
	case errors.Is(err, services.ErrGroupExists):
		utils.Error(ctx, http.StatusConflict, 40902, "group name already exists")
	case errors.Is(err, services.ErrStoreUnavailable):
		utils.Error(ctx, http.StatusServiceUnavailable, 50330, "store unavailable, try again")
	case errors.Is(err, services.ErrInvariantViolation):
		utils.Error(ctx, http.StatusInternalServerError, 50050, "internal ledger error")
	default:
		utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
	}
}
