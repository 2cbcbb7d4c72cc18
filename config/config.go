package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// StreakTier is one row of the streak bonus table: reaching Days of
// consecutive check-ins awards Points, once per crossing.
type StreakTier struct {
	Days   int `json:"days"`
	Points int `json:"points"`
}

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided
// via config/config.json or the environment. The struct is loaded once at
// boot and treated as immutable afterwards.
type AppConfig struct {
	AppPort   string
	JWTSecret string

	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string

	TelegramBotToken string

	// Points engine
	BaseReward         int
	StreakTiers        []StreakTier
	MakeupCost         int
	MakeupWindowDays   int
	MakeupMonthlyLimit int
	TransferEnabled    bool
	TransferFeePercent int
	TransferMin        int
	TransferMax        int
	EmailBonusPoints   int
	MinPointsForEmail  int

	// Logical day boundary
	Timezone      string
	DayCutoffHour int

	RateLimitPerMinute int
	AllowedOrigins     []string

	// Gin framework configuration
	GinMode string
	GinPath string

	// SMTP for email verification
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLS      bool

	// Redis for caching/verification
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	// Seed admins hold every capability regardless of group membership.
	AdminIDs []uint

	// Backup
	BackupDir string
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during
// boot. Precedence: config/config.json -> defaults -> environment overrides.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	_ = loadJSONConfig(filepath.Join("config", "config.json"), &cfg)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// SetForTesting replaces the cached configuration. Test helper only.
func SetForTesting(c AppConfig) {
	cfg = c
	loaded = true
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads the JSON file into cfg if present. Returns error only
// for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			}
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return false
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]string, 0, len(arr))
				for _, it := range arr {
					if s, ok := it.(string); ok {
						res = append(res, s)
					}
				}
				return res
			}
		}
		return nil
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		if v := getInt(app, "RateLimitPerMinute"); v != 0 {
			out.RateLimitPerMinute = v
		}
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		if v := getString(app, "TelegramBotToken"); v != "" {
			out.TelegramBotToken = v
		}
	}

	if pts, ok := raw["points"].(map[string]any); ok {
		if v := getInt(pts, "BaseReward"); v != 0 {
			out.BaseReward = v
		}
		if v := getInt(pts, "MakeupCost"); v != 0 {
			out.MakeupCost = v
		}
		if v := getInt(pts, "MakeupWindowDays"); v != 0 {
			out.MakeupWindowDays = v
		}
		if v := getInt(pts, "MakeupMonthlyLimit"); v != 0 {
			out.MakeupMonthlyLimit = v
		}
		out.TransferEnabled = getBool(pts, "TransferEnabled")
		if v := getInt(pts, "TransferFeePercent"); v != 0 {
			out.TransferFeePercent = v
		}
		if v := getInt(pts, "TransferMin"); v != 0 {
			out.TransferMin = v
		}
		if v := getInt(pts, "TransferMax"); v != 0 {
			out.TransferMax = v
		}
		if v := getInt(pts, "EmailBonusPoints"); v != 0 {
			out.EmailBonusPoints = v
		}
		if v := getInt(pts, "MinPointsForEmail"); v != 0 {
			out.MinPointsForEmail = v
		}
		if arr, ok := pts["StreakTiers"].([]any); ok {
			for _, it := range arr {
				if m, ok := it.(map[string]any); ok {
					tier := StreakTier{Days: getInt(m, "days"), Points: getInt(m, "points")}
					if tier.Days > 0 && tier.Points > 0 {
						out.StreakTiers = append(out.StreakTiers, tier)
					}
				}
			}
		}
	}

	if cal, ok := raw["calendar"].(map[string]any); ok {
		if v := getString(cal, "Timezone"); v != "" {
			out.Timezone = v
		}
		out.DayCutoffHour = getInt(cal, "DayCutoffHour")
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		if v := getInt(rds, "RedisPort"); v != 0 {
			out.RedisPort = v
		}
		if v := getInt(rds, "RedisDB"); v != 0 {
			out.RedisDB = v
		}
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if sm, ok := raw["smtp"].(map[string]any); ok {
		out.SMTPHost = getString(sm, "SMTPHost")
		if v := getInt(sm, "SMTPPort"); v != 0 {
			out.SMTPPort = v
		}
		out.SMTPUsername = getString(sm, "SMTPUsername")
		out.SMTPPassword = getString(sm, "SMTPPassword")
		out.SMTPFrom = getString(sm, "SMTPFrom")
		out.SMTPFromName = getString(sm, "SMTPFromName")
		out.SMTPTLS = getBool(sm, "SMTPTLS")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		if v := getString(lg, "Level"); v != "" {
			out.LogLevel = v
		}
		if v := getString(lg, "Path"); v != "" {
			out.LogPath = v
		}
		if v := getString(lg, "GinMode"); v != "" {
			out.GinMode = v
		}
		if v := getString(lg, "GinPath"); v != "" {
			out.GinPath = v
		}
		if v := getInt(lg, "MaxSizeMB"); v != 0 {
			out.LogMaxSizeMB = v
		}
		if v := getInt(lg, "MaxBackups"); v != 0 {
			out.LogMaxBackups = v
		}
		if v := getInt(lg, "MaxAgeDays"); v != 0 {
			out.LogMaxAgeDays = v
		}
		out.LogCompress = getBool(lg, "Compress")
	}

	if adm, ok := raw["admin"].(map[string]any); ok {
		if arr, ok := adm["IDs"].([]any); ok {
			for _, it := range arr {
				if f, ok := it.(float64); ok && f > 0 {
					out.AdminIDs = append(out.AdminIDs, uint(f))
				}
			}
		}
	}

	if bk, ok := raw["backup"].(map[string]any); ok {
		if v := getString(bk, "Dir"); v != "" {
			out.BackupDir = v
		}
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.BaseReward == 0 {
		c.BaseReward = 10
	}
	if len(c.StreakTiers) == 0 {
		c.StreakTiers = []StreakTier{{Days: 7, Points: 20}, {Days: 30, Points: 100}}
	}
	if c.MakeupCost == 0 {
		c.MakeupCost = 50
	}
	if c.MakeupWindowDays == 0 {
		c.MakeupWindowDays = 3
	}
	if c.MakeupMonthlyLimit == 0 {
		c.MakeupMonthlyLimit = 1
	}
	if c.TransferFeePercent == 0 {
		c.TransferFeePercent = 5
	}
	if c.TransferMin == 0 {
		c.TransferMin = 10
	}
	if c.TransferMax == 0 {
		c.TransferMax = 1000
	}
	if c.EmailBonusPoints == 0 {
		c.EmailBonusPoints = 50
	}
	if c.MinPointsForEmail == 0 {
		c.MinPointsForEmail = 5
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Shanghai"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "checkinhub"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.BackupDir == "" {
		c.BackupDir = "backups"
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("TELEGRAM_BOT_TOKEN", ""); v != "" {
		c.TelegramBotToken = v
	}
	if v := getEnv("CHECKIN_BASE_REWARD", ""); v != "" {
		c.BaseReward = mustParseInt(v)
	}
	if v := getEnv("MAKEUP_COST", ""); v != "" {
		c.MakeupCost = mustParseInt(v)
	}
	if v := getEnv("MAKEUP_WINDOW_DAYS", ""); v != "" {
		c.MakeupWindowDays = mustParseInt(v)
	}
	if v := getEnv("MAKEUP_MONTHLY_LIMIT", ""); v != "" {
		c.MakeupMonthlyLimit = mustParseInt(v)
	}
	if v := getEnv("TRANSFER_ENABLED", ""); v != "" {
		c.TransferEnabled = v == "true"
	}
	if v := getEnv("DAY_CUTOFF_HOUR", ""); v != "" {
		c.DayCutoffHour = mustParseInt(v)
	}
	if v := getEnv("TIMEZONE", ""); v != "" {
		c.Timezone = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("ADMIN_IDS", ""); v != "" {
		c.AdminIDs = c.AdminIDs[:0]
		for _, part := range splitAndTrim(v) {
			if id, err := strconv.ParseUint(part, 10, 32); err == nil {
				c.AdminIDs = append(c.AdminIDs, uint(id))
			}
		}
	}
	if v := getEnv("SMTP_HOST", ""); v != "" {
		c.SMTPHost = v
	}
	if v := getEnv("SMTP_PORT", ""); v != "" {
		c.SMTPPort = mustParseInt(v)
	}
	if v := getEnv("SMTP_USERNAME", ""); v != "" {
		c.SMTPUsername = v
	}
	if v := getEnv("SMTP_PASSWORD", ""); v != "" {
		c.SMTPPassword = v
	}
	if v := getEnv("SMTP_FROM", ""); v != "" {
		c.SMTPFrom = v
	}
	if v := getEnv("SMTP_FROM_NAME", ""); v != "" {
		c.SMTPFromName = v
	}
	if v := getEnv("SMTP_TLS", ""); v != "" {
		c.SMTPTLS = v == "true"
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("BACKUP_DIR", ""); v != "" {
		c.BackupDir = v
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
