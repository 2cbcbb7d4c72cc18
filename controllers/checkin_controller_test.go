package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/checkinhub/config"
	"github.com/cppla/checkinhub/middleware"
	"github.com/cppla/checkinhub/models"
	"github.com/cppla/checkinhub/services"
)

var ctrlUserSeq atomic.Uint64

type testEnv struct {
	db     *gorm.DB
	points *services.PointsService
	cal    *services.Calendar
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.PointsTransaction{},
		&models.CheckinDay{},
		&models.PermissionGroup{},
		&models.GroupMember{},
	))

	cfg := config.AppConfig{
		BaseReward:         10,
		StreakTiers:        []config.StreakTier{{Days: 7, Points: 20}},
		MakeupCost:         50,
		MakeupWindowDays:   3,
		MakeupMonthlyLimit: 1,
		Timezone:           "UTC",
	}
	cal, err := services.NewCalendar(cfg.Timezone, cfg.DayCutoffHour)
	require.NoError(t, err)
	registry := services.NewRegistry(db, nil)
	points := services.NewPointsService(db, cfg, cal, registry)
	return &testEnv{db: db, points: points, cal: cal}
}

func (e *testEnv) createUser(t *testing.T, points int64) *models.User {
	t.Helper()
	user := &models.User{Username: fmt.Sprintf("web%d", ctrlUserSeq.Add(1))}
	require.NoError(t, e.db.Create(user).Error)
	if points != 0 {
		require.NoError(t, e.db.Create(&models.PointsTransaction{
			UserID:  user.ID,
			Kind:    models.TxKindAdminAdjust,
			Delta:   points,
			Balance: points,
			Day:     e.cal.Today(),
			Reason:  "seed",
		}).Error)
		user.Points = points
		require.NoError(t, e.db.Save(user).Error)
	}
	return user
}

// newRouter wires the check-in routes with a stub auth layer that injects
// the given user id, the way the JWT middleware does after token parsing.
func (e *testEnv) newRouter(userID uint) *gin.Engine {
	r := gin.New()
	r.Use(func(ctx *gin.Context) {
		if userID != 0 {
			ctx.Set(middleware.ContextUserIDKey, userID)
		}
		ctx.Next()
	})
	ctrl := NewCheckinController(e.points)
	r.POST("/checkin", ctrl.DailyCheckIn)
	r.POST("/checkin/makeup", ctrl.MakeUp)
	r.GET("/checkin/status", ctrl.Status)
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestDailyCheckInEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, 0)
	r := env.newRouter(user.ID)

	w, resp := doJSON(t, r, http.MethodPost, "/checkin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)

	var res services.CheckInResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 1, res.Streak)
	assert.Equal(t, int64(10), res.Balance)

	// Second attempt the same day maps to the stable business code.
	w, resp = doJSON(t, r, http.MethodPost, "/checkin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40030, resp.Code)
}

func TestCheckInRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	r := env.newRouter(0)

	w, resp := doJSON(t, r, http.MethodPost, "/checkin", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40110, resp.Code)
}

func TestMakeUpEndpointAcceptsDayAndDate(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, 200)
	r := env.newRouter(user.ID)
	yesterday := env.cal.Today() - 1

	w, resp := doJSON(t, r, http.MethodPost, "/checkin/makeup", gin.H{"day": yesterday})
	assert.Equal(t, http.StatusOK, w.Code)

	var res services.MakeupResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, yesterday, res.Day)
	assert.Equal(t, 50, res.Cost)

	// The date form round-trips through the same day arithmetic.
	day, err := parseDate(env.cal.FormatDay(yesterday))
	require.NoError(t, err)
	assert.Equal(t, yesterday, day)

	w, resp = doJSON(t, r, http.MethodPost, "/checkin/makeup", gin.H{"date": "not-a-date"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40002, resp.Code)

	w, resp = doJSON(t, r, http.MethodPost, "/checkin/makeup", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40001, resp.Code)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, 0)
	r := env.newRouter(user.ID)

	_, err := env.points.CheckIn(context.Background(), user.ID)
	require.NoError(t, err)

	w, resp := doJSON(t, r, http.MethodGet, "/checkin/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var status services.StreakStatus
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.False(t, status.EligibleToday)
	assert.Equal(t, 1, status.Streak)
}
