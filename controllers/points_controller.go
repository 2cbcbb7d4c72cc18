package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkinhub/services"
	"github.com/cppla/checkinhub/utils"
)

// PointsController exposes balance, ledger history, and transfers.
type PointsController struct {
	points *services.PointsService
}

// NewPointsController creates a new controller instance.
func NewPointsController(points *services.PointsService) *PointsController {
	return &PointsController{points: points}
}

// Balance returns the user's current streak status and balance.
func (p *PointsController) Balance(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	status, err := p.points.EvaluateStreak(ctx.Request.Context(), userID)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"points":     status.Balance,
		"streak":     status.Streak,
		"max_streak": status.MaxStreak,
	})
}

// History returns a page of the user's transaction ledger, newest first.
func (p *PointsController) History(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	page, pageSize := 1, 20
	if v := strings.TrimSpace(ctx.Query("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := strings.TrimSpace(ctx.Query("page_size")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}

	txs, total, err := p.points.History(ctx.Request.Context(), userID, page, pageSize)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
		"transactions": txs,
	})
}

type transferRequest struct {
	ToUserID uint  `json:"to_user_id" binding:"required"`
	Amount   int64 `json:"amount" binding:"required"`
}

// Transfer moves points to another user.
func (p *PointsController) Transfer(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req transferRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request body")
		return
	}

	res, err := p.points.Transfer(ctx.Request.Context(), userID, req.ToUserID, req.Amount)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}
