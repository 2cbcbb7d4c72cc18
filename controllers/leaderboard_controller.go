package controllers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkinhub/services"
	"github.com/cppla/checkinhub/utils"
)

// LeaderboardController serves the public ranking view.
type LeaderboardController struct {
	board *services.Leaderboard
}

// NewLeaderboardController creates a new controller instance.
func NewLeaderboardController(board *services.Leaderboard) *LeaderboardController {
	return &LeaderboardController{board: board}
}

// TopN returns the leaderboard ordered by balance or streak.
func (l *LeaderboardController) TopN(ctx *gin.Context) {
	n := 10
	if v := strings.TrimSpace(ctx.Query("n")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	orderBy := strings.TrimSpace(ctx.DefaultQuery("by", services.OrderByBalance))

	entries, err := l.board.TopN(ctx.Request.Context(), n, orderBy)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"order_by": orderBy,
		"entries":  entries,
	})
}
