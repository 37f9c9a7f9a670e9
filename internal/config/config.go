package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Named defaults shared by the loaders and their callers
const (
	DefaultPool         = "rating_reports"
	DefaultDataDir      = "data"
	DefaultLogsDir      = "logs"
	DefaultMappingFile  = "user_report_mapping.json"
	DefaultRosterFile   = "users.yaml"
	DefaultSQLitePath   = "data/metarate.db"
	ReportSourceFS      = "fs"
	ReportSourceS3      = "s3"
	LogBackendDatabase  = "database"
	LogBackendFile      = "file"
	RatedIndexScan      = "scan"
	RatedIndexRedis     = "redis"
	DriverPostgres      = "postgres"
	DriverSQLite        = "sqlite"
	defaultRedisAddress = "localhost:6379"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Session   SessionConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	App       AppConfig
	Log       LogConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string
	Port         string
	TimeoutRead  time.Duration
	TimeoutWrite time.Duration
	TimeoutIdle  time.Duration
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	Path            string // sqlite file path
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// SessionConfig holds session-related configuration
type SessionConfig struct {
	Timeout time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Duration time.Duration
}

// AppConfig holds general application configuration
type AppConfig struct {
	Env     string
	Name    string
	Version string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// StorageConfig describes where reports, mappings, rosters and action logs live
type StorageConfig struct {
	ReportSource   string // fs or s3
	DataDir        string
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	MappingFile    string
	DefaultPool    string
	RosterFile     string
	BootstrapAdmin string // username granted admin by the one-time roster migration
	LogBackend     string // database or file
	LogsDir        string
}

// RedisConfig holds the optional rated-set index configuration
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	RatedIndex string // scan or redis
	KeyPrefix  string
	IndexTTL   time.Duration
}

// SchedulerConfig holds the maintenance task intervals. Zero disables a task.
type SchedulerConfig struct {
	SessionCleanupInterval time.Duration
	MappingReloadInterval  time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// godotenv doesn't override already-set variables, so order matters
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnv("SERVER_PORT", "8080"),
			TimeoutRead:  getDurationEnv("SERVER_TIMEOUT_READ", 15*time.Second),
			TimeoutWrite: getDurationEnv("SERVER_TIMEOUT_WRITE", 15*time.Second),
			TimeoutIdle:  getDurationEnv("SERVER_TIMEOUT_IDLE", 60*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", DriverSQLite),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "metarate"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "metarate_db"),
			SSLMode:         getEnv("DB_SSLMODE", "prefer"),
			Path:            getEnv("DB_PATH", DefaultSQLitePath),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Expiration: getDurationEnv("JWT_EXPIRATION", 12*time.Hour),
		},
		Session: SessionConfig{
			Timeout: getDurationEnv("SESSION_TIMEOUT", 2*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getSliceEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getSliceEnv("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getSliceEnv("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"}),
			AllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getIntEnv("CORS_MAX_AGE", 300),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getBoolEnv("RATE_LIMIT_ENABLED", true),
			Requests: getIntEnv("RATE_LIMIT_REQUESTS", 100),
			Duration: getDurationEnv("RATE_LIMIT_DURATION", 1*time.Minute),
		},
		App: AppConfig{
			Env:     getEnv("APP_ENV", "development"),
			Name:    getEnv("APP_NAME", "MetaRate"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			ReportSource:   getEnv("REPORT_SOURCE", ReportSourceFS),
			DataDir:        getEnv("DATA_DIR", DefaultDataDir),
			S3Bucket:       getEnv("S3_BUCKET", ""),
			S3Prefix:       getEnv("S3_PREFIX", ""),
			S3Region:       getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:     getEnv("S3_ENDPOINT", ""),
			S3AccessKey:    getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretKey:    getEnv("S3_SECRET_ACCESS_KEY", ""),
			MappingFile:    getEnv("POOL_MAPPING_FILE", DefaultMappingFile),
			DefaultPool:    getEnv("DEFAULT_POOL", DefaultPool),
			RosterFile:     getEnv("ROSTER_FILE", DefaultRosterFile),
			BootstrapAdmin: getEnv("BOOTSTRAP_ADMIN", ""),
			LogBackend:     getEnv("ACTION_LOG_BACKEND", LogBackendDatabase),
			LogsDir:        getEnv("LOGS_DIR", DefaultLogsDir),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", defaultRedisAddress),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getIntEnv("REDIS_DB", 0),
			RatedIndex: getEnv("RATED_INDEX", RatedIndexScan),
			KeyPrefix:  getEnv("REDIS_KEY_PREFIX", "metarate:"),
			IndexTTL:   getDurationEnv("REDIS_INDEX_TTL", 24*time.Hour),
		},
		Scheduler: SchedulerConfig{
			SessionCleanupInterval: getDurationEnv("SESSION_CLEANUP_INTERVAL", 15*time.Minute),
			MappingReloadInterval:  getDurationEnv("POOL_MAPPING_RELOAD_INTERVAL", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" && c.App.Env == "production" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Password == "" && c.App.Env == "production" {
			return fmt.Errorf("DB_PASSWORD is required in production")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Storage.ReportSource {
	case ReportSourceFS:
	case ReportSourceS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when REPORT_SOURCE=s3")
		}
	default:
		return fmt.Errorf("unsupported REPORT_SOURCE %q", c.Storage.ReportSource)
	}
	if c.Storage.LogBackend != LogBackendDatabase && c.Storage.LogBackend != LogBackendFile {
		return fmt.Errorf("unsupported ACTION_LOG_BACKEND %q", c.Storage.LogBackend)
	}
	if c.Redis.RatedIndex != RatedIndexScan && c.Redis.RatedIndex != RatedIndexRedis {
		return fmt.Errorf("unsupported RATED_INDEX %q", c.Redis.RatedIndex)
	}
	if c.Redis.RatedIndex == RatedIndexRedis && c.Redis.IndexTTL <= 0 {
		return fmt.Errorf("REDIS_INDEX_TTL must be positive")
	}
	if strings.TrimSpace(c.Storage.DefaultPool) == "" {
		return fmt.Errorf("DEFAULT_POOL must not be empty")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, v := range parts {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
