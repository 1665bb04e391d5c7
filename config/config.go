/*
Package config loads server settings from the environment.

SOURCES (later wins):
  1. Defaults below
  2. .env file in the working directory, if present
  3. Process environment, prefixed TUITION_ (TUITION_PORT, TUITION_DB_PATH, ...)
  4. Command-line flags, applied by cmd/server

KEYS:
  PORT             HTTP port (8080)
  DB_PATH          SQLite file, ":memory:" for a throwaway database
  REDIS_URL        enables the cross-process lock when set
  DUE_SOON_DAYS    look-ahead of the DueSoon sweep rule (3)
  SWEEP_INTERVAL   alert sweep period (24h)
  SWEEP_ENABLED    run the sweep in the background (true)
  LOCK_TTL         Redis lock expiry (10s)
  CURRENCY         label printed on documents (MAD)
  ISSUER_NAME      document header
  ALLOWED_ORIGINS  comma-separated CORS origins
*/
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "TUITION"

type Config struct {
	Port           int
	DBPath         string
	RedisURL       string
	DueSoonDays    int
	SweepInterval  time.Duration
	SweepEnabled   bool
	LockTTL        time.Duration
	Currency       string
	IssuerName     string
	AllowedOrigins []string
}

// DueSoonWindow converts DueSoonDays to a duration.
func (c Config) DueSoonWindow() time.Duration {
	return time.Duration(c.DueSoonDays) * 24 * time.Hour
}

func defaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "tuition.db")
	v.SetDefault("redis_url", "")
	v.SetDefault("due_soon_days", 3)
	v.SetDefault("sweep_interval", 24*time.Hour)
	v.SetDefault("sweep_enabled", true)
	v.SetDefault("lock_ttl", 10*time.Second)
	v.SetDefault("currency", "MAD")
	v.SetDefault("issuer_name", "Training Center")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
}

// Load reads configuration. dotEnvPath may be empty to skip the .env file;
// a missing file is not an error.
func Load(dotEnvPath string) (Config, error) {
	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return Config{}, fmt.Errorf("config: load %s: %w", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", dotEnvPath, err)
		}
	}

	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	cfg := Config{
		Port:          v.GetInt("port"),
		DBPath:        v.GetString("db_path"),
		RedisURL:      v.GetString("redis_url"),
		DueSoonDays:   v.GetInt("due_soon_days"),
		SweepInterval: v.GetDuration("sweep_interval"),
		SweepEnabled:  v.GetBool("sweep_enabled"),
		LockTTL:       v.GetDuration("lock_ttl"),
		Currency:      v.GetString("currency"),
		IssuerName:    v.GetString("issuer_name"),
	}
	for _, origin := range strings.Split(v.GetString("allowed_origins"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case c.DBPath == "":
		return fmt.Errorf("config: db_path is required")
	case c.DueSoonDays < 0:
		return fmt.Errorf("config: due_soon_days must not be negative")
	case c.SweepEnabled && c.SweepInterval <= 0:
		return fmt.Errorf("config: sweep_interval must be positive")
	}
	return nil
}
