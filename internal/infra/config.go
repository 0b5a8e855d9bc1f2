package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string

	AMQPURL      string
	QueueName    string
	ExchangeName string
	Prefetch     int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	BucketPrefix   string

	StoragePath    string
	StorageBaseURL string

	GeminiAPIKey  string
	GeminiBaseURL string

	MaxActiveJobs    int
	MaxPromptLen     int
	MaxStepRetries   int
	StaleAfter       time.Duration
	SweepInterval    time.Duration
	ThumbWidth       int
	ReadURLTTL       time.Duration
	PublishURLTTL    time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		AMQPURL:      os.Getenv("AMQP_URL"),
		QueueName:    getEnv("QUEUE_NAME", "generation.steps"),
		ExchangeName: getEnv("EXCHANGE_NAME", "generation"),
		Prefetch:     getEnvInt("QUEUE_PREFETCH", 4),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		BucketPrefix:   getEnv("BUCKET_PREFIX", "stylizer"),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		MaxActiveJobs:    getEnvInt("MAX_ACTIVE_JOBS", 2),
		MaxPromptLen:     getEnvInt("MAX_PROMPT_LENGTH", 1000),
		MaxStepRetries:   getEnvInt("MAX_STEP_RETRIES", 3),
		StaleAfter:       time.Second * time.Duration(getEnvInt("STALE_AFTER_SECONDS", 300)),
		SweepInterval:    time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)),
		ThumbWidth:       getEnvInt("THUMB_WIDTH", 512),
		ReadURLTTL:       time.Minute * time.Duration(getEnvInt("READ_URL_TTL_MINUTES", 15)),
		PublishURLTTL:    time.Hour * time.Duration(getEnvInt("PUBLISH_URL_TTL_HOURS", 168)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
