package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// データベースドライバー
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseDriver  string
	DatabaseURL     string
	MongoURI        string
	MongoDatabase   string
	DatabaseTimeout time.Duration

	// Auth
	JWTSecret      string
	JWTExpire      time.Duration
	BcryptCost     int
	GoogleClientID string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitAuth    int

	// Statistics snapshot
	StatsSnapshotSchedule string

	// Server
	ServerPort      string
	AppEnv          string
	LogLevel        string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration

	// CORS
	CORSAllowedOrigin string
}

// IsDevelopment は開発モードの場合にtrueを返す。開発モードでは500レスポンスにエラー詳細を含める。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// LoadDotEnv はpathの.envファイルを環境変数に読み込む。既に設定済みの環境変数は上書きしない。
// ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.DatabaseDriver = strings.ToLower(getEnvString("DATABASE_DRIVER", DriverMongo))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseDriver == DriverPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.DatabaseDriver {
	case DriverMongo, DriverPostgres, DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER: %q", cfg.DatabaseDriver)
	}

	expire, err := ParseDuration(getEnvString("JWT_EXPIRE", "7d"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRE: %w", err)
	}
	cfg.JWTExpire = expire

	// Optional fields with defaults
	cfg.MongoURI = getEnvString("MONGODB_URI", "mongodb://localhost:27017")
	cfg.MongoDatabase = getEnvString("MONGODB_DATABASE", "taskmanager")
	cfg.DatabaseTimeout = getEnvDuration("DATABASE_TIMEOUT", 10*time.Second)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.StatsSnapshotSchedule = getEnvString("STATS_SNAPSHOT_SCHEDULE", "@every 5m")
	cfg.ServerPort = getEnvString("SERVER_PORT", getEnvString("PORT", "5000"))
	cfg.AppEnv = getEnvString("APP_ENV", "production")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.MaxBodyBytes = getEnvInt64("MAX_BODY_BYTES", 10<<20)
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// ParseDuration はtime.ParseDurationの書式に加えて、"7d"のような日数指定を受け付ける。
func ParseDuration(v string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid day duration %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", v)
	}
	return d, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
