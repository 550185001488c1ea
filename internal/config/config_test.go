package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, 3, cfg.MaxTemplates)
	assert.Equal(t, 75, cfg.DefaultSensitivity)
	assert.Equal(t, 20*time.Second, cfg.FaceTimeout)
	assert.False(t, cfg.GeofenceEnforce)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, "redis", cfg.TwoFactorStore)
	assert.False(t, cfg.CloudinaryEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("FACE_TIMEOUT", "30s")
	t.Setenv("MAX_TEMPLATES", "2")
	t.Setenv("GEOFENCE_ENFORCE", "true")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("QUEUE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.Equal(t, 30*time.Second, cfg.FaceTimeout)
	assert.Equal(t, 2, cfg.MaxTemplates)
	assert.True(t, cfg.GeofenceEnforce)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, "redis", cfg.TwoFactorStore, "code store is chosen separately")
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"MAX_TEMPLATES", "0"},
		{"MAX_TEMPLATES", "4"},
		{"DEFAULT_SENSITIVITY", "101"},
		{"QUEUE_BACKEND", "kafka"},
		{"TWO_FACTOR_STORE", "disk"},
		{"TIMEZONE", "Mars/Olympus"},
		{"FACE_TIMEOUT", "soon"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.val, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
