package controllers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/checkinhub/config"
	"github.com/cppla/checkinhub/models"
	"github.com/cppla/checkinhub/services"
	"github.com/cppla/checkinhub/utils"
)

const tokenDuration = 7 * 24 * time.Hour

// AuthController handles authentication and email binding. The product's
// primary identity source is Telegram; local username/password accounts
// exist for the web panel.
type AuthController struct {
	db     *gorm.DB
	points *services.PointsService
}

// NewAuthController creates a new controller instance.
func NewAuthController(db *gorm.DB, points *services.PointsService) *AuthController {
	return &AuthController{db: db, points: points}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register creates a local account.
func (a *AuthController) Register(ctx *gin.Context) {
	var req registerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request body")
		return
	}

	username := utils.SanitizeText(req.Username)
	if !validUsername(username) {
		utils.Error(ctx, http.StatusBadRequest, 40010, "username must be 3-32 letters, digits or underscores")
		return
	}
	if len(req.Password) < 8 {
		utils.Error(ctx, http.StatusBadRequest, 40011, "password must be at least 8 characters")
		return
	}

	var count int64
	if err := a.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50000, "failed to check username")
		return
	}
	if count > 0 {
		utils.Error(ctx, http.StatusConflict, 40910, "username already taken")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to hash password")
		return
	}

	user := models.User{Username: username, PasswordHash: hash}
	if err := a.db.Create(&user).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to create user")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Username, tokenDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "user": publicUser(user)})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates a local account and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	var req loginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request body")
		return
	}

	var user models.User
	if err := a.db.Where("username = ?", utils.SanitizeText(req.Username)).First(&user).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40120, "invalid username or password")
		return
	}
	if user.Disabled || !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40120, "invalid username or password")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Username, tokenDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "user": publicUser(user)})
}

// Logout revokes the presented token until its natural expiration.
func (a *AuthController) Logout(ctx *gin.Context) {
	authHeader := ctx.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 {
		token := strings.TrimSpace(parts[1])
		if claims, err := utils.ParseToken(token); err == nil && claims.ExpiresAt != nil {
			utils.BlacklistToken(token, claims.ExpiresAt.Time)
		}
	}
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the authenticated user's profile.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	utils.Success(ctx, publicUser(user))
}

type telegramLoginRequest struct {
	ID        int64  `json:"id" binding:"required"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	AuthDate  int64  `json:"auth_date" binding:"required"`
	Hash      string `json:"hash" binding:"required"`
}

// TelegramLogin verifies a Telegram login widget payload and finds or
// lazily creates the user bound to that Telegram id.
func (a *AuthController) TelegramLogin(ctx *gin.Context) {
	cfg := config.Get()
	if cfg.TelegramBotToken == "" {
		utils.Error(ctx, http.StatusNotImplemented, 50120, "telegram login not configured")
		return
	}

	var req telegramLoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request body")
		return
	}
	if !verifyTelegramSignature(cfg.TelegramBotToken, req) {
		utils.Error(ctx, http.StatusUnauthorized, 40121, "invalid telegram signature")
		return
	}
	if time.Since(time.Unix(req.AuthDate, 0)) > time.Hour {
		utils.Error(ctx, http.StatusUnauthorized, 40122, "telegram login expired")
		return
	}

	var user models.User
	err := a.db.Where("telegram_id = ?", req.ID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		username := utils.SanitizeText(req.Username)
		if username == "" {
			username = utils.SanitizeText(req.FirstName)
		}
		if username == "" {
			username = fmt.Sprintf("tg_%d", req.ID)
		}
		user = models.User{TelegramID: &req.ID, Username: username}
		if err := a.db.Create(&user).Error; err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to create user")
			return
		}
	} else if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50000, "failed to load user")
		return
	}
	if user.Disabled {
		utils.Error(ctx, http.StatusForbidden, 40302, "account disabled")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Username, tokenDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "user": publicUser(user)})
}

type sendEmailCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// SendEmailCode emails a verification code for binding. Binding requires a
// small minimum balance to deter throwaway accounts, and sends are
// rate-limited per address.
func (a *AuthController) SendEmailCode(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req sendEmailCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid email")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	cfg := config.Get()
	if user.Points < int64(cfg.MinPointsForEmail) {
		utils.Error(ctx, http.StatusBadRequest, 40034, fmt.Sprintf("need at least %d points to bind an email", cfg.MinPointsForEmail))
		return
	}

	var taken int64
	if err := a.db.Model(&models.User{}).
		Where("email = ? AND email_verified = ? AND id <> ?", email, true, userID).
		Count(&taken).Error; err == nil && taken > 0 {
		utils.Error(ctx, http.StatusConflict, 40901, "email already bound by another user")
		return
	}

	if !utils.EmailCooldownTrySet(email, time.Minute) {
		utils.Error(ctx, http.StatusTooManyRequests, 42902, "code already sent, wait before retrying")
		return
	}

	code := utils.GenerateVerificationCode(6)
	utils.SaveCode(email, code, 5*time.Minute)

	body := fmt.Sprintf("Your verification code is %s. It expires in 5 minutes.", code)
	if err := utils.SendMail(email, "Email verification", body); err != nil {
		utils.Sugar.Warnw("failed to send verification email", "err", err)
		utils.Error(ctx, http.StatusInternalServerError, 50010, "failed to send email")
		return
	}
	utils.Success(ctx, gin.H{"message": "verification code sent"})
}

type verifyEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

// VerifyEmail consumes the code and binds the address. First-time
// verification pays the one-time email bonus through the ledger.
func (a *AuthController) VerifyEmail(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req verifyEmailRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if !utils.VerifyAndConsumeCode(email, strings.TrimSpace(req.Code)) {
		utils.Error(ctx, http.StatusBadRequest, 40035, "invalid or expired code")
		return
	}

	balance, err := a.points.AwardEmailBonus(ctx.Request.Context(), userID, email)
	if err != nil {
		serviceError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"email": email, "verified": true, "balance": balance})
}

func validUsername(s string) bool {
	if len(s) < 3 || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// verifyTelegramSignature checks the login widget HMAC: the data-check
// string is the sorted key=value pairs hashed with SHA256(bot token).
func verifyTelegramSignature(botToken string, req telegramLoginRequest) bool {
	pairs := []string{
		fmt.Sprintf("auth_date=%d", req.AuthDate),
		fmt.Sprintf("id=%d", req.ID),
	}
	if req.FirstName != "" {
		pairs = append(pairs, "first_name="+req.FirstName)
	}
	if req.Username != "" {
		pairs = append(pairs, "username="+req.Username)
	}
	sort.Strings(pairs)
	dataCheck := strings.Join(pairs, "\n")

	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(dataCheck))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(req.Hash)))
}

func publicUser(user models.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"username":       user.Username,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"points":         user.Points,
		"streak_days":    user.StreakDays,
		"max_streak":     user.MaxStreakDays,
		"total_checkins": user.TotalCheckins,
		"created_at":     user.CreatedAt,
	}
}
