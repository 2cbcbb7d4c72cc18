package controllers

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/checkinhub/models"
	"github.com/cppla/checkinhub/services"
	"github.com/cppla/checkinhub/utils"
)

// StatsController provides community statistics and the health endpoint.
type StatsController struct {
	db     *gorm.DB
	points *services.PointsService
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB, points *services.PointsService) *StatsController {
	return &StatsController{db: db, points: points}
}

const statsCacheKey = "cache:stats"

type statsPayload struct {
	UserCount         int64 `json:"user_count"`
	TodayCheckins     int64 `json:"today_checkins"`
	PointsIssuedToday int64 `json:"points_issued_today"`
	TransactionCount  int64 `json:"transaction_count"`
}

// GetStats returns aggregate statistics. Results are cached briefly in
// Redis since the numbers tolerate a little staleness, unlike the
// leaderboard.
func (s *StatsController) GetStats(ctx *gin.Context) {
	if b, ok := utils.CacheGetBytes(statsCacheKey); ok {
		var cached statsPayload
		if json.Unmarshal(b, &cached) == nil {
			utils.Success(ctx, cached)
			return
		}
	}

	var payload statsPayload
	today := s.points.Calendar().Today()

	if err := s.db.Model(&models.User{}).Where("disabled = ?", false).Count(&payload.UserCount).Error; err != nil {
		payload.UserCount = 0
	}
	if err := s.db.Model(&models.CheckinDay{}).Where("day = ?", today).Count(&payload.TodayCheckins).Error; err != nil {
		payload.TodayCheckins = 0
	}
	if err := s.db.Model(&models.PointsTransaction{}).
		Where("day = ? AND delta > 0", today).
		Select("COALESCE(SUM(delta),0)").
		Scan(&payload.PointsIssuedToday).Error; err != nil {
		payload.PointsIssuedToday = 0
	}
	if err := s.db.Model(&models.PointsTransaction{}).Count(&payload.TransactionCount).Error; err != nil {
		payload.TransactionCount = 0
	}

	utils.CacheSetJSON(statsCacheKey, payload, 60*time.Second)
	utils.Success(ctx, payload)
}

// Health reports store reachability, in-flight operations, and the last
// successful commit timestamp.
func (s *StatsController) Health(ctx *gin.Context) {
	utils.Success(ctx, s.points.Health(ctx.Request.Context()))
}
