package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the AutoML API server and worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Auth      AuthConfig
	Worker    WorkerConfig
	Trainer   TrainerConfig
	Artifacts ArtifactConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	LogLevel        slog.Level
	RateLimitPerMin int
	MigrationsDir   string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL       string
	ResultTTL time.Duration
}

type RabbitMQConfig struct {
	URL   string
	Queue string
}

type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

type WorkerConfig struct {
	ID                string
	Concurrency       int
	LeaseTTL          time.Duration
	MaxAttempts       int
	ReapInterval      time.Duration
	PendingRedelivery time.Duration
	// MaxPendingAge fails jobs never picked up; zero disables it.
	MaxPendingAge time.Duration
}

type TrainerConfig struct {
	Provider      string
	Seed          int64
	StageMinDelay time.Duration
	StageMaxDelay time.Duration
}

type ArtifactConfig struct {
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	URLTTL         time.Duration
	PublicBaseURL  string
}

// MinioEnabled reports whether model artifacts should be uploaded to MinIO.
func (a ArtifactConfig) MinioEnabled() bool {
	return a.MinioEndpoint != ""
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

const minProductionSecretLen = 32

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("AUTOML_PORT", 8000),
			Env:             envString("AUTOML_ENV", "development"),
			LogLevel:        envLogLevel("LOG_LEVEL", slog.LevelInfo),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			ResultTTL: envDuration("REDIS_RESULT_TTL", 24*time.Hour),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   os.Getenv("RABBITMQ_URL"),
			Queue: envString("QUEUE_NAME", "ml_queue"),
		},
		Auth: AuthConfig{
			JWTSecret:  os.Getenv("JWT_SECRET"),
			TokenTTL:   envDuration("JWT_TTL", 30*time.Minute),
			BcryptCost: envInt("BCRYPT_COST", 10),
		},
		Worker: WorkerConfig{
			ID:                envString("WORKER_ID", hostname),
			Concurrency:       envInt("WORKER_CONCURRENCY", 4),
			LeaseTTL:          envDuration("WORKER_LEASE_TTL", 2*time.Minute),
			MaxAttempts:       envInt("WORKER_MAX_ATTEMPTS", 3),
			ReapInterval:      envDuration("WORKER_REAP_INTERVAL", 30*time.Second),
			PendingRedelivery: envDuration("WORKER_PENDING_REDELIVERY", 2*time.Minute),
			MaxPendingAge:     envDuration("WORKER_MAX_PENDING_AGE", time.Hour),
		},
		Trainer: TrainerConfig{
			Provider:      envString("TRAINER_PROVIDER", "mock"),
			Seed:          int64(envInt("TRAINER_SEED", 0)),
			StageMinDelay: envDuration("TRAINER_STAGE_MIN_DELAY", 2*time.Second),
			StageMaxDelay: envDuration("TRAINER_STAGE_MAX_DELAY", 5*time.Second),
		},
		Artifacts: ArtifactConfig{
			MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
			MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
			MinioBucket:    envString("MINIO_BUCKET", "automl-models"),
			MinioUseSSL:    envBool("MINIO_USE_SSL", false),
			URLTTL:         envDuration("ARTIFACT_URL_TTL", 24*time.Hour),
			PublicBaseURL:  strings.TrimRight(envString("ARTIFACT_PUBLIC_BASE_URL", "http://localhost:8000"), "/"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:  envString("OTEL_SERVICE_NAME", "automl"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required")
	}
	if !strings.HasPrefix(c.RabbitMQ.URL, "amqp://") && !strings.HasPrefix(c.RabbitMQ.URL, "amqps://") {
		return fmt.Errorf("RABBITMQ_URL must start with amqp:// or amqps://, got %q", c.RabbitMQ.URL)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Server.Env == "production" && len(c.Auth.JWTSecret) < minProductionSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minProductionSecretLen)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.Auth.TokenTTL)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.LeaseTTL <= c.Trainer.StageMaxDelay {
		return fmt.Errorf("WORKER_LEASE_TTL (%s) must exceed TRAINER_STAGE_MAX_DELAY (%s)",
			c.Worker.LeaseTTL, c.Trainer.StageMaxDelay)
	}
	if c.Worker.MaxPendingAge < 0 || (c.Worker.MaxPendingAge > 0 && c.Worker.MaxPendingAge <= c.Worker.PendingRedelivery) {
		return fmt.Errorf("WORKER_MAX_PENDING_AGE (%s) must be 0 or exceed WORKER_PENDING_REDELIVERY (%s)",
			c.Worker.MaxPendingAge, c.Worker.PendingRedelivery)
	}

	if c.Trainer.StageMinDelay < 0 || c.Trainer.StageMaxDelay < c.Trainer.StageMinDelay {
		return fmt.Errorf("TRAINER_STAGE_MIN_DELAY/TRAINER_STAGE_MAX_DELAY must satisfy 0 <= min <= max")
	}

	if c.Artifacts.MinioEnabled() && (c.Artifacts.MinioAccessKey == "" || c.Artifacts.MinioSecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
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

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
