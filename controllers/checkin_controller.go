package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkinhub/services"
	"github.com/cppla/checkinhub/utils"
)

// CheckinController handles daily check-in and makeup endpoints.
type CheckinController struct {
	points *services.PointsService
}

// NewCheckinController creates a new controller instance.
func NewCheckinController(points *services.PointsService) *CheckinController {
	return &CheckinController{points: points}
}

// DailyCheckIn records today's check-in and returns the awarded points.
func (c *CheckinController) DailyCheckIn(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	res, err := c.points.CheckIn(ctx.Request.Context(), userID)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

type makeupRequest struct {
	Day *int64 `json:"day"`
	// Date is accepted as an alternative to the raw logical day number.
	Date string `json:"date"`
}

// MakeUp retroactively fills a missed day by spending points.
func (c *CheckinController) MakeUp(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req makeupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request body")
		return
	}

	var targetDay int64
	switch {
	case req.Day != nil:
		targetDay = *req.Day
	case req.Date != "":
		day, err := parseDate(req.Date)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40002, "invalid date, expected YYYY-MM-DD")
			return
		}
		targetDay = day
	default:
		utils.Error(ctx, http.StatusBadRequest, 40001, "day or date is required")
		return
	}

	res, err := c.points.MakeUp(ctx.Request.Context(), userID, targetDay)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	utils.Success(ctx, res)
}

// Status returns the user's streak position and check-in eligibility.
func (c *CheckinController) Status(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	status, err := c.points.EvaluateStreak(ctx.Request.Context(), userID)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	utils.Success(ctx, status)
}
