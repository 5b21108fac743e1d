package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("BATCH_NOTIFY", "")

	cfg := Load()

	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.StorageDriver)
	assert.False(t, cfg.Batch.CreateMissing)
	assert.True(t, cfg.Batch.Notify)
	assert.Equal(t, "GHS", cfg.SMS.Currency)
	assert.Equal(t, 10*time.Second, cfg.SMS.Timeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("BATCH_WORKERS", "3")
	t.Setenv("BATCH_CREATE_MISSING", "true")
	t.Setenv("SMS_TIMEOUT", "250ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, 3, cfg.Batch.Workers)
	assert.True(t, cfg.Batch.CreateMissing)
	assert.Equal(t, 250*time.Millisecond, cfg.SMS.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.EqualValues(t, 10, cfg.DBMaxConns)
}
