package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		// A missing .env is fine in development, the process env still applies.
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	return nil
}

// ErrMissingJWTSecret is returned when production runs without JWT_SECRET.
var ErrMissingJWTSecret = errors.New("JWT_SECRET environment variable is required in production")

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

type Config struct {
	GoEnv string
	Port  int

	// Database
	DBDriver   string // sqlite or postgres
	DBPath     string
	DBHost     string
	DBPort     string
	DBUserName string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret        string
	JWTIssuer        string
	JWTExpiry        time.Duration
	JWTRefreshExpiry time.Duration

	// Passwords hashed at another cost are rehashed on the next login
	BcryptCost int

	// Redis (optional, enables login brute force protection)
	RedisURL string

	RateLimit RateLimitConfig
	Upload    UploadConfig

	AllowedOrigins     string
	UsageRetentionDays int
	CronEnabled        bool
	MetricsEnabled     bool

	LogLevel  string
	LogFormat string
}

// RateLimitConfig controls both the per-feature quota and the per-IP limiters.
type RateLimitConfig struct {
	FreeTierLimit int
	APIRequests   int
	AuthRequests  int
	Window        time.Duration
	UpgradeURL    string

	// Disabled switches off the quota check and both per-IP limiters.
	// Set by DISABLE_RATE_LIMITING=true or GO_ENV=test.
	Disabled bool
}

type UploadConfig struct {
	MaxFileSizeFree    int64
	MaxFileSizePremium int64

	// ProcessTimeout bounds one resize; zero means no deadline.
	ProcessTimeout time.Duration
}

func Load() (*Config, error) {
	goEnv := getEnv("GO_ENV", EnvDevelopment)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if goEnv == EnvProduction {
			return nil, ErrMissingJWTSecret
		}
		jwtSecret = generateSecureSecret(32)
	}

	logFormat := getEnv("LOG_FORMAT", "")
	if logFormat == "" {
		logFormat = "console"
		if goEnv == EnvProduction {
			logFormat = "json"
		}
	}

	return &Config{
		GoEnv: goEnv,
		Port:  getEnvInt("PORT", 3000),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:     getEnv("DB_PATH", "./database/pixscaler.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUserName: os.Getenv("DB_USER_NAME"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "pixscaler"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		JWTSecret:        jwtSecret,
		JWTIssuer:        getEnv("JWT_ISSUER", "pixscaler-api"),
		JWTExpiry:        getEnvDuration("JWT_EXPIRES_IN", 7*24*time.Hour),
		JWTRefreshExpiry: getEnvDuration("JWT_REFRESH_EXPIRES_IN", 30*24*time.Hour),

		BcryptCost: getEnvInt("BCRYPT_COST", 12),

		RedisURL: os.Getenv("REDIS_URL"),

		RateLimit: RateLimitConfig{
			FreeTierLimit: getEnvInt("FREE_TIER_LIMIT", 10),
			APIRequests:   getEnvInt("API_RATE_LIMIT", 100),
			AuthRequests:  getEnvInt("AUTH_RATE_LIMIT", 5),
			Window:        getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			UpgradeURL:    getEnv("UPGRADE_URL", "/pricing"),
			Disabled:      goEnv == EnvTest || getEnvBool("DISABLE_RATE_LIMITING", false),
		},
		Upload: UploadConfig{
			MaxFileSizeFree:    int64(getEnvInt("MAX_FILE_SIZE_FREE", 5*1024*1024)),
			MaxFileSizePremium: int64(getEnvInt("MAX_FILE_SIZE_PREMIUM", 50*1024*1024)),
			ProcessTimeout:     getEnvDuration("IMAGE_PROCESS_TIMEOUT", 55*time.Second),
		},

		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		UsageRetentionDays: getEnvInt("USAGE_RETENTION_DAYS", 0),
		CronEnabled:        getEnvBool("CRON_ENABLED", true),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: logFormat,
	}, nil
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.GoEnv == EnvProduction
}

// generateSecureSecret generates a cryptographically secure random secret
func generateSecureSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic("config: unable to read random bytes: " + err.Error())
	}
	return hex.EncodeToString(bytes)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
