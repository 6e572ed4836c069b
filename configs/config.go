package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/maheshrc27/postflow/pkg/logger"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type Queue struct {
	Name               string
	WorkerConcurrency  int
	PublishConcurrency int
	JobRetention       time.Duration
	CancelMarkerTTL    time.Duration
	StatsCacheTTL      time.Duration
}

type Config struct {
	Port               string
	PostgresURI        string
	RedisURI           string
	RedisPassword      string
	FrontendURL        string
	SecretKey          string
	CookieName         string
	RateLimitPerMinute int
	PublishTimeout     time.Duration
	Queue              Queue
	R2                 R2
	Logger             logger.Config
}

func LoadConfig() *Config {
	return &Config{
		Port:               getEnv("PORT", "3000"),
		PostgresURI:        getEnv("POSTGRES_URI", ""),
		RedisURI:           getEnv("REDIS_URI", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),
		SecretKey:          getEnv("SECRET_KEY", ""),
		CookieName:         getEnv("COOKIE_NAME", "postflow_session"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		PublishTimeout:     getEnvDuration("PUBLISH_TIMEOUT", 2*time.Minute),
		Queue: Queue{
			Name:               getEnv("QUEUE_NAME", "posts"),
			WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 10),
			PublishConcurrency: getEnvInt("PUBLISH_CONCURRENCY", 10),
			JobRetention:       getEnvDuration("JOB_RETENTION", 24*time.Hour),
			CancelMarkerTTL:    getEnvDuration("CANCEL_MARKER_TTL", 24*time.Hour),
			StatsCacheTTL:      getEnvDuration("STATS_CACHE_TTL", 5*time.Second),
		},
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("MEDIA_BASE_URL", ""),
		},
		Logger: logger.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer for %s: %v", key, err)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration for %s: %v", key, err)
		return defaultValue
	}
	return d
}
