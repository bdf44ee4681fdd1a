package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env
	AppEnv  string

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort            string
	ServiceApiPort     string
	CorsAllowedOrigins []string

	// Lifecycle
	ConflictMaxRetries    int
	ChatUpsertMaxRetries  int
	InterviewRoomTTL      time.Duration
	PitchMaxLength        int
	ChatElevationMaxRetry int

	// Notifications
	NotificationMaxRetry int
	MockServices         bool
	LogNotifications     bool
	NotificationLogDir   string

	// Rate Limiting
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Defaults returns a Config populated with the same defaults Load applies.
// Tests and local wiring start from it.
func Defaults() *Config {
	return &Config{
		AppEnv:                "development",
		MongoDbName:           "tutormatch",
		RedisAddr:             "localhost:6379",
		JwtTTL:                time.Hour,
		ApiPort:               "8080",
		ServiceApiPort:        "12345",
		ConflictMaxRetries:    5,
		ChatUpsertMaxRetries:  3,
		InterviewRoomTTL:      7 * 24 * time.Hour,
		PitchMaxLength:        4000,
		ChatElevationMaxRetry: 10,
		NotificationMaxRetry:  5,
		NotificationLogDir:    "notifications",
		RateLimitBucketSize:   8,
		RateLimitRefillRate:   4,
	}
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	_ = godotenv.Load()

	cfg := Defaults()
	cfg.RunMode = runMode

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getInt := func(key string, defaultValue int) (int, error) {
		v, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		if v < 0 {
			return 0, fmt.Errorf("invalid %s: must not be negative", key)
		}
		return v, nil
	}

	getBool := func(key string) (bool, error) {
		raw := getEnv(key, "false")
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return v, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.AppEnv = getEnv("APP_ENV", cfg.AppEnv)
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", cfg.MongoDbName)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.ApiPort = getEnv("API_PORT", cfg.ApiPort)
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", cfg.ServiceApiPort)
	cfg.NotificationLogDir = getEnv("NOTIFICATION_LOG_DIR", cfg.NotificationLogDir)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CorsAllowedOrigins = append(cfg.CorsAllowedOrigins, o)
			}
		}
	}

	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	jwtTTLSeconds, err := getInt("JWT_TTL_SECONDS", int(cfg.JwtTTL/time.Second))
	if err != nil {
		return nil, err
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	if cfg.ConflictMaxRetries, err = getInt("CONFLICT_MAX_RETRIES", cfg.ConflictMaxRetries); err != nil {
		return nil, err
	}
	if cfg.ChatUpsertMaxRetries, err = getInt("CHAT_UPSERT_MAX_RETRIES", cfg.ChatUpsertMaxRetries); err != nil {
		return nil, err
	}
	interviewTTLHours, err := getInt("INTERVIEW_ROOM_TTL_HOURS", int(cfg.InterviewRoomTTL/time.Hour))
	if err != nil {
		return nil, err
	}
	cfg.InterviewRoomTTL = time.Duration(interviewTTLHours) * time.Hour

	if cfg.PitchMaxLength, err = getInt("PITCH_MAX_LENGTH", cfg.PitchMaxLength); err != nil {
		return nil, err
	}
	if cfg.ChatElevationMaxRetry, err = getInt("CHAT_ELEVATION_MAX_RETRY", cfg.ChatElevationMaxRetry); err != nil {
		return nil, err
	}
	if cfg.NotificationMaxRetry, err = getInt("NOTIFICATION_MAX_RETRY", cfg.NotificationMaxRetry); err != nil {
		return nil, err
	}
	if cfg.MockServices, err = getBool("MOCK_SERVICES"); err != nil {
		return nil, err
	}
	if cfg.LogNotifications, err = getBool("LOG_NOTIFICATIONS"); err != nil {
		return nil, err
	}

	// Rate Limiting
	if cfg.RateLimitBucketSize, err = getInt("RATE_LIMIT_BUCKET_SIZE", cfg.RateLimitBucketSize); err != nil {
		return nil, err
	}
	if cfg.RateLimitRefillRate, err = getInt("RATE_LIMIT_REFILL_RATE", cfg.RateLimitRefillRate); err != nil {
		return nil, err
	}

	return cfg, nil
}
