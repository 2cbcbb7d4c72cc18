package main

import (
	"github.com/cppla/checkinhub/config"
	"github.com/cppla/checkinhub/models"
	"github.com/cppla/checkinhub/routes"
	"github.com/cppla/checkinhub/services"
	"github.com/cppla/checkinhub/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(
		&models.User{},
		&models.PointsTransaction{},
		&models.CheckinDay{},
		&models.PermissionGroup{},
		&models.GroupMember{},
	)

	calendar, err := services.NewCalendar(cfg.Timezone, cfg.DayCutoffHour)
	if err != nil {
		utils.Sugar.Fatalf("invalid calendar configuration: %v", err)
	}
	registry := services.NewRegistry(db, cfg.AdminIDs)
	points := services.NewPointsService(db, cfg, calendar, registry)
	board := services.NewLeaderboard(db)

	r := routes.SetupRouter(db, points, registry, board)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
