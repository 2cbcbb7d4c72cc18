package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/checkinhub/config"
	"github.com/cppla/checkinhub/controllers"
	"github.com/cppla/checkinhub/middleware"
	"github.com/cppla/checkinhub/services"
	"github.com/cppla/checkinhub/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB, points *services.PointsService, registry *services.Registry, board *services.Leaderboard) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	authController := controllers.NewAuthController(db, points)
	checkinController := controllers.NewCheckinController(points)
	pointsController := controllers.NewPointsController(points)
	adminController := controllers.NewAdminController(points, registry)
	boardController := controllers.NewLeaderboardController(board)
	statsController := controllers.NewStatsController(db, points)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/telegram", authController.TelegramLogin)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)
	authGroup.POST("/email/send-code", middleware.AuthRequired(), authController.SendEmailCode)
	authGroup.POST("/email/verify", middleware.AuthRequired(), authController.VerifyEmail)

	// Public reads
	api.GET("/leaderboard", boardController.TopN)
	api.GET("/stats", statsController.GetStats)
	api.GET("/health", statsController.Health)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())
	protected.POST("/checkin", checkinController.DailyCheckIn)
	protected.POST("/checkin/makeup", checkinController.MakeUp)
	protected.GET("/checkin/status", checkinController.Status)
	protected.GET("/points", pointsController.Balance)
	protected.GET("/points/history", pointsController.History)
	protected.POST("/points/transfer", pointsController.Transfer)

	admin := protected.Group("/admin")
	admin.POST("/points/adjust", adminController.AdjustPoints)
	admin.GET("/groups", adminController.ListGroups)
	admin.POST("/groups", adminController.CreateGroup)
	admin.DELETE("/groups/:name", adminController.DeleteGroup)
	admin.POST("/groups/:name/members", adminController.AddMember)
	admin.DELETE("/groups/:name/members", adminController.RemoveMember)
	admin.POST("/backup", adminController.Backup)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
