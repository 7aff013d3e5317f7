package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	AWS        AWSConfig
	Scheduling SchedulingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/signage?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the S3 buckets for content payloads
// and proof-of-play report exports.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ContentBucket        string
	ReportsBucket        string
	PresignExpireMinutes int
}

// SchedulingConfig holds the scheduling engine parameters. The default item
// settings are mandatory: the screen falls back to the default item whenever
// nothing else is eligible, so a scheduler without one refuses to start.
type SchedulingConfig struct {
	SurfaceID            string        // physical display surface this scheduler drives
	CooldownDuration     time.Duration // exclusivity-tag cool-down window
	FairnessDecay        float64       // per-excess-play decay of effective weight, (0,1]
	FairnessWindow       time.Duration // plays older than this no longer count against an item
	AckTimeout           time.Duration // module must ack a PLAY within this bound
	HeartbeatInterval    time.Duration // expected renderer heartbeat cadence
	HeartbeatMisses      int           // consecutive misses before a module is unresponsive
	DefaultDuration      time.Duration // play length for items without a duration hint
	DefaultItemURI       string        // mandatory filler content
	DefaultItemKind      string
	ForcedBypassCooldown bool // forced-play triggers ignore exclusivity cool-down
}

// Validate reports fatal configuration errors. Called once at startup before
// the scheduling loop is entered.
func (c SchedulingConfig) Validate() error {
	if c.DefaultItemURI == "" {
		return fmt.Errorf("scheduling: DEFAULT_ITEM_URI is required (the screen must never go blank)")
	}
	if c.DefaultItemKind == "" {
		return fmt.Errorf("scheduling: DEFAULT_ITEM_KIND is required")
	}
	if c.FairnessDecay <= 0 || c.FairnessDecay > 1 {
		return fmt.Errorf("scheduling: FAIRNESS_DECAY must be in (0,1], got %v", c.FairnessDecay)
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("scheduling: ACK_TIMEOUT_MS must be positive")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatMisses <= 0 {
		return fmt.Errorf("scheduling: heartbeat interval and miss count must be positive")
	}
	if c.DefaultDuration <= 0 {
		return fmt.Errorf("scheduling: DEFAULT_DURATION_SEC must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/signage?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "signage"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ContentBucket:        getEnv("AWS_S3_CONTENT_BUCKET", "signage-content-bucket"),
			ReportsBucket:        getEnv("AWS_S3_REPORTS_BUCKET", "signage-reports-bucket"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Scheduling: SchedulingConfig{
			SurfaceID:            getEnv("SURFACE_ID", "main"),
			CooldownDuration:     getEnvDuration("COOLDOWN_SEC", 120*time.Second),
			FairnessDecay:        getEnvFloat("FAIRNESS_DECAY", 0.85),
			FairnessWindow:       getEnvDuration("FAIRNESS_WINDOW_SEC", 2*time.Hour),
			AckTimeout:           getEnvDuration("ACK_TIMEOUT_MS", 3*time.Second),
			HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL_SEC", 10*time.Second),
			HeartbeatMisses:      getEnvInt("HEARTBEAT_MISSES", 3),
			DefaultDuration:      getEnvDuration("DEFAULT_DURATION_SEC", 15*time.Second),
			DefaultItemURI:       getEnv("DEFAULT_ITEM_URI", ""),
			DefaultItemKind:      getEnv("DEFAULT_ITEM_KIND", "image"),
			ForcedBypassCooldown: getEnvBool("FORCED_BYPASS_COOLDOWN", true),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads a numeric env var in the unit named by the key suffix
// (_MS or _SEC) and falls back to the given duration.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	if strings.HasSuffix(key, "_MS") {
		return time.Duration(n) * time.Millisecond
	}
	return time.Duration(n) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
