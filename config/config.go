package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	TokenTTLHours      int
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Per-request timezone resolution
	DefaultTimezone string
	TimezoneCookie  string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for caching and throttling
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
	// Registration security
	RegisterMaxPerIPPerDay        int
	RegisterAttemptCooldownSec    int
	RegisterFailedMaxPerIPPerHour int
	RegisterTempBanMinutes        int
	// Image attachments
	MaxImageBytes       int64
	MaxImageWidth       int
	ThumbnailSize       int
	MaxImagesPerCheckIn int
	UploadWorkers       int
	SignedURLTTLSeconds int
	StoreTimeoutMs      int
	CleanupIntervalSec  int
	S3Endpoint          string
	S3AccessKey         string
	S3SecretKey         string
	S3Bucket            string
	S3Region            string
	S3UseSSL            bool
	// Telegram notifications
	TelegramBotToken  string
	TelegramAPIBase   string
	TelegramTimeoutMs int
	NotifyQueueSize   int
	NotifyWorkers     int
	NotifyMaxRetries  int
}

// S3Enabled reports whether an object store is configured.
func (c AppConfig) S3Enabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

// TokenTTL returns the JWT lifetime.
func (c AppConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> .env -> environment variable overrides
	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Printf("config/config.json ignored: %v", err)
	}

	applyDefaults(&cfg)

	// .env never overrides variables already present in the process environment
	_ = godotenv.Load()
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

// Set replaces the cached configuration. Used by tests and tools that build config in code.
func Set(c AppConfig) {
	applyDefaults(&c)
	cfg = c
	loaded = true
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads grouped JSON sections into out if the file is present.
// Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if s, ok := m[key].(string); ok {
			return s
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		switch t := m[key].(type) {
		case float64:
			return int(t)
		case int:
			return t
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		b, _ := m[key].(bool)
		return b
	}
	getStringSlice := func(m map[string]any, key string) []string {
		arr, ok := m[key].([]any)
		if !ok {
			return nil
		}
		res := make([]string, 0, len(arr))
		for _, it := range arr {
			if s, ok := it.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}
	section := func(name string) (map[string]any, bool) {
		m, ok := raw[name].(map[string]any)
		return m, ok
	}

	if app, ok := section("app"); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		out.TokenTTLHours = getInt(app, "TokenTTLHours")
		out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		out.DefaultTimezone = getString(app, "DefaultTimezone")
		out.TimezoneCookie = getString(app, "TimezoneCookie")
	}

	if g, ok := section("gin"); ok {
		out.GinMode = getString(g, "Mode")
		out.GinPath = getString(g, "LogPath")
	}

	if dbs, ok := section("database"); ok {
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := section("redis"); ok {
		out.RedisHost = getString(rds, "RedisHost")
		out.RedisPort = getInt(rds, "RedisPort")
		out.RedisDB = getInt(rds, "RedisDB")
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if lg, ok := section("log"); ok {
		out.LogLevel = getString(lg, "Level")
		out.LogPath = getString(lg, "Path")
		out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
		out.LogMaxBackups = getInt(lg, "MaxBackups")
		out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
		out.LogCompress = getBool(lg, "Compress")
	}

	if rg, ok := section("register"); ok {
		out.RegisterMaxPerIPPerDay = getInt(rg, "MaxPerIPPerDay")
		out.RegisterAttemptCooldownSec = getInt(rg, "AttemptCooldownSec")
		out.RegisterFailedMaxPerIPPerHour = getInt(rg, "FailedMaxPerIPPerHour")
		out.RegisterTempBanMinutes = getInt(rg, "TempBanMinutes")
	}

	if md, ok := section("media"); ok {
		out.MaxImageBytes = int64(getInt(md, "MaxImageBytes"))
		out.MaxImageWidth = getInt(md, "MaxImageWidth")
		out.ThumbnailSize = getInt(md, "ThumbnailSize")
		out.MaxImagesPerCheckIn = getInt(md, "MaxImagesPerCheckIn")
		out.UploadWorkers = getInt(md, "UploadWorkers")
		out.SignedURLTTLSeconds = getInt(md, "SignedURLTTLSeconds")
		out.StoreTimeoutMs = getInt(md, "StoreTimeoutMs")
		out.CleanupIntervalSec = getInt(md, "CleanupIntervalSec")
	}

	if s3, ok := section("s3"); ok {
		out.S3Endpoint = getString(s3, "Endpoint")
		out.S3AccessKey = getString(s3, "AccessKey")
		out.S3SecretKey = getString(s3, "SecretKey")
		out.S3Bucket = getString(s3, "Bucket")
		out.S3Region = getString(s3, "Region")
		out.S3UseSSL = getBool(s3, "UseSSL")
	}

	if tg, ok := section("telegram"); ok {
		out.TelegramBotToken = getString(tg, "BotToken")
		out.TelegramAPIBase = getString(tg, "APIBase")
		out.TelegramTimeoutMs = getInt(tg, "TimeoutMs")
	}

	if nt, ok := section("notify"); ok {
		out.NotifyQueueSize = getInt(nt, "QueueSize")
		out.NotifyWorkers = getInt(nt, "Workers")
		out.NotifyMaxRetries = getInt(nt, "MaxRetries")
	}
	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.TokenTTLHours == 0 {
		c.TokenTTLHours = 72
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = "Asia/Shanghai"
	}
	if c.TimezoneCookie == "" {
		c.TimezoneCookie = "timezone"
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
		c.DBName = "dailycheckin"
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
	if c.RegisterMaxPerIPPerDay == 0 {
		c.RegisterMaxPerIPPerDay = 5
	}
	if c.RegisterAttemptCooldownSec == 0 {
		c.RegisterAttemptCooldownSec = 10
	}
	if c.RegisterFailedMaxPerIPPerHour == 0 {
		c.RegisterFailedMaxPerIPPerHour = 20
	}
	if c.RegisterTempBanMinutes == 0 {
		c.RegisterTempBanMinutes = 60
	}
	if c.MaxImageBytes == 0 {
		c.MaxImageBytes = 5 * 1024 * 1024
	}
	if c.MaxImageWidth == 0 {
		c.MaxImageWidth = 1200
	}
	if c.ThumbnailSize == 0 {
		c.ThumbnailSize = 300
	}
	if c.MaxImagesPerCheckIn == 0 {
		c.MaxImagesPerCheckIn = 9
	}
	if c.UploadWorkers == 0 {
		c.UploadWorkers = 4
	}
	if c.SignedURLTTLSeconds == 0 {
		c.SignedURLTTLSeconds = 3600
	}
	if c.StoreTimeoutMs == 0 {
		c.StoreTimeoutMs = 800
	}
	if c.CleanupIntervalSec == 0 {
		c.CleanupIntervalSec = 300
	}
	if c.S3Region == "" {
		c.S3Region = "us-east-1"
	}
	if c.TelegramAPIBase == "" {
		c.TelegramAPIBase = "https://api.telegram.org"
	}
	if c.TelegramTimeoutMs == 0 {
		c.TelegramTimeoutMs = 800
	}
	if c.NotifyQueueSize == 0 {
		c.NotifyQueueSize = 256
	}
	if c.NotifyWorkers == 0 {
		c.NotifyWorkers = 2
	}
	if c.NotifyMaxRetries == 0 {
		c.NotifyMaxRetries = 3
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	strs := map[string]*string{
		"APP_PORT":           &c.AppPort,
		"JWT_SECRET":         &c.JWTSecret,
		"DEFAULT_TIMEZONE":   &c.DefaultTimezone,
		"TIMEZONE_COOKIE":    &c.TimezoneCookie,
		"GIN_MODE":           &c.GinMode,
		"GIN_PATH":           &c.GinPath,
		"DATABASE_URI":       &c.DatabaseURI,
		"DB_HOST":            &c.DBHost,
		"DB_PORT":            &c.DBPort,
		"DB_USER":            &c.DBUser,
		"DB_PASSWORD":        &c.DBPassword,
		"DB_NAME":            &c.DBName,
		"REDIS_HOST":         &c.RedisHost,
		"REDIS_PASSWORD":     &c.RedisPassword,
		"LOG_LEVEL":          &c.LogLevel,
		"LOG_PATH":           &c.LogPath,
		"S3_ENDPOINT":        &c.S3Endpoint,
		"S3_ACCESS_KEY":      &c.S3AccessKey,
		"S3_SECRET_KEY":      &c.S3SecretKey,
		"S3_BUCKET":          &c.S3Bucket,
		"S3_REGION":          &c.S3Region,
		"TELEGRAM_BOT_TOKEN": &c.TelegramBotToken,
		"TELEGRAM_API_BASE":  &c.TelegramAPIBase,
	}
	for key, dst := range strs {
		if v := getEnv(key, ""); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TOKEN_TTL_HOURS":                     &c.TokenTTLHours,
		"RATE_LIMIT_PER_MINUTE":               &c.RateLimitPerMinute,
		"REDIS_PORT":                          &c.RedisPort,
		"REDIS_DB":                            &c.RedisDB,
		"LOG_MAX_SIZE_MB":                     &c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":                     &c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS":                    &c.LogMaxAgeDays,
		"REGISTER_MAX_PER_IP_PER_DAY":         &c.RegisterMaxPerIPPerDay,
		"REGISTER_ATTEMPT_COOLDOWN_SEC":       &c.RegisterAttemptCooldownSec,
		"REGISTER_FAILED_MAX_PER_IP_PER_HOUR": &c.RegisterFailedMaxPerIPPerHour,
		"REGISTER_TEMP_BAN_MINUTES":           &c.RegisterTempBanMinutes,
		"MAX_IMAGE_WIDTH":                     &c.MaxImageWidth,
		"THUMBNAIL_SIZE":                      &c.ThumbnailSize,
		"MAX_IMAGES_PER_CHECKIN":              &c.MaxImagesPerCheckIn,
		"UPLOAD_WORKERS":                      &c.UploadWorkers,
		"SIGNED_URL_TTL_SECONDS":              &c.SignedURLTTLSeconds,
		"STORE_TIMEOUT_MS":                    &c.StoreTimeoutMs,
		"CLEANUP_INTERVAL_SEC":                &c.CleanupIntervalSec,
		"TELEGRAM_TIMEOUT_MS":                 &c.TelegramTimeoutMs,
		"NOTIFY_QUEUE_SIZE":                   &c.NotifyQueueSize,
		"NOTIFY_WORKERS":                      &c.NotifyWorkers,
		"NOTIFY_MAX_RETRIES":                  &c.NotifyMaxRetries,
	}
	for key, dst := range ints {
		if v := getEnv(key, ""); v != "" {
			*dst = mustParseInt(v)
		}
	}

	if v := getEnv("MAX_IMAGE_BYTES", ""); v != "" {
		c.MaxImageBytes = int64(mustParseInt(v))
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = parseBool(v)
	}
	if v := getEnv("S3_USE_SSL", ""); v != "" {
		c.S3UseSSL = parseBool(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	return err == nil && b
}

func readListEnv(key string, defaults []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaults
	}
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
