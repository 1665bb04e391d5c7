package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "tuition.db", cfg.DBPath)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 72*time.Hour, cfg.DueSoonWindow())
	assert.Equal(t, 24*time.Hour, cfg.SweepInterval)
	assert.True(t, cfg.SweepEnabled)
	assert.Equal(t, "MAD", cfg.Currency)
	assert.Len(t, cfg.AllowedOrigins, 2)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TUITION_PORT", "9090")
	t.Setenv("TUITION_DB_PATH", ":memory:")
	t.Setenv("TUITION_SWEEP_INTERVAL", "1h")
	t.Setenv("TUITION_SWEEP_ENABLED", "false")
	t.Setenv("TUITION_ALLOWED_ORIGINS", "https://school.example, ")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.False(t, cfg.SweepEnabled)
	assert.Equal(t, []string{"https://school.example"}, cfg.AllowedOrigins)
}

func TestLoad_DotEnv(t *testing.T) {
	// godotenv does not override variables already set, so start clean.
	t.Setenv("TUITION_CURRENCY", "")
	os.Unsetenv("TUITION_CURRENCY")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TUITION_CURRENCY=EUR\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TUITION_CURRENCY") })

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.Currency)
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("TUITION_PORT", "70000")

	_, err := config.Load("")
	assert.Error(t, err)
}
