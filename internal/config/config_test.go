package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, int64(100<<20), cfg.MaxFileSize)
	assert.Equal(t, int64(1<<10), cfg.MinFileSize)
	assert.Equal(t, 1000, cfg.MaxPages)
	assert.Equal(t, 30*time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, 3, cfg.QueueMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.QueueRetryDelay)
	assert.Equal(t, 2, cfg.QueueConcurrency)
	assert.Equal(t, 5, cfg.QueueRateLimit)
	assert.Equal(t, time.Minute, cfg.QueueRateWindow)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 100, cfg.CacheMaxSize)
	assert.Equal(t, 90*24*time.Hour, cfg.AccessLogRetention)
	assert.Equal(t, 10, cfg.JobKeepCompleted)
	assert.Equal(t, 50, cfg.JobKeepFailed)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE", "2048")
	t.Setenv("PROCESSING_TIMEOUT", "90s")
	t.Setenv("QUEUE_RETRY_DELAY", "5") // bare seconds
	t.Setenv("CACHE_MAX_SIZE", "not-a-number")
	t.Setenv("CORS_ORIGIN", "https://a.example, https://b.example")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, int64(2048), cfg.MaxFileSize)
	assert.Equal(t, 90*time.Second, cfg.ProcessingTimeout)
	assert.Equal(t, 5*time.Second, cfg.QueueRetryDelay)
	assert.Equal(t, 100, cfg.CacheMaxSize, "invalid numbers fall back to the default")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestFromEnvRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"default secret in release", map[string]string{"GIN_MODE": "release"}},
		{"inverted size bounds", map[string]string{"MAX_FILE_SIZE": "100", "MIN_FILE_SIZE": "200"}},
		{"s3 without bucket", map[string]string{"STORAGE_BACKEND": "s3"}},
		{"gcs without bucket", map[string]string{"STORAGE_BACKEND": "gcs"}},
		{"unknown storage", map[string]string{"STORAGE_BACKEND": "ftp"}},
		{"unknown queue", map[string]string{"QUEUE_BACKEND": "kafka"}},
		{"unknown gin mode", map[string]string{"GIN_MODE": "prod"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
