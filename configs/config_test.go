package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("QUEUE_NAME", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("CANCEL_MARKER_TTL", "")

	cfg := LoadConfig()

	assert.Equal(t, "posts", cfg.Queue.Name)
	assert.Equal(t, 10, cfg.Queue.WorkerConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.Queue.CancelMarkerTTL)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("QUEUE_NAME", "publish")
	t.Setenv("PUBLISH_CONCURRENCY", "3")
	t.Setenv("STATS_CACHE_TTL", "30s")

	cfg := LoadConfig()

	assert.Equal(t, "publish", cfg.Queue.Name)
	assert.Equal(t, 3, cfg.Queue.PublishConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Queue.StatsCacheTTL)
}

func TestGetEnvFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "lots")
	t.Setenv("PUBLISH_TIMEOUT", "soon")

	assert.Equal(t, 7, getEnvInt("RATE_LIMIT_PER_MINUTE", 7))
	assert.Equal(t, time.Minute, getEnvDuration("PUBLISH_TIMEOUT", time.Minute))
}
