package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string `validate:"required"`
	HTTPPort string `validate:"required,numeric"`
	LogLevel string `validate:"oneof=debug info warn error"`

	// DatabaseURL is optional; without it the service runs with no system
	// of record and reconciliation only merges locally.
	DatabaseURL string
	RedisAddr   string `validate:"required_if=OfflineBackend redis"`

	OfflineBackend    string `validate:"oneof=memory redis sqlite"`
	OfflineSQLitePath string `validate:"required_if=OfflineBackend sqlite"`
	OfflineLogKey     string `validate:"required"`

	TokenExpiryMinutes     int           `validate:"gte=1"`
	TokenAutoRefresh       bool
	SessionDurationMinutes int           `validate:"gte=1"`
	RotationTick           time.Duration `validate:"gte=10ms"`
	SyncInterval           time.Duration `validate:"gte=0s"`

	ImportStrict    bool
	RateLimitPerMin int `validate:"gte=1"`
}

// Production reports whether the app runs with production defaults.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

var validate = validator.New()

// Load reads an optional dotenv file, then returns application config
// populated from environment variables with sensible defaults. Variables
// already set in the environment win over the file.
func Load() (App, error) {
	path := getEnv("ENV_FILE", ".env")
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return App{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return App{}, fmt.Errorf("config: stat %s: %w", path, err)
	}

	cfg := App{
		Env:                    getEnv("APP_ENV", "dev"),
		HTTPPort:               getEnv("HTTP_PORT", "8081"),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisAddr:              getEnv("REDIS_ADDR", "localhost:6379"),
		OfflineBackend:         strings.ToLower(getEnv("OFFLINE_BACKEND", "memory")),
		OfflineSQLitePath:      getEnv("OFFLINE_SQLITE_PATH", "offline.db"),
		OfflineLogKey:          getEnv("OFFLINE_LOG_KEY", "attendance:offline_queue"),
		TokenExpiryMinutes:     intEnv("TOKEN_EXPIRY_MINUTES", 1),
		TokenAutoRefresh:       boolEnv("TOKEN_AUTO_REFRESH", true),
		SessionDurationMinutes: intEnv("SESSION_DURATION_MINUTES", 60),
		RotationTick:           durationEnv("ROTATION_TICK", time.Second),
		SyncInterval:           durationEnv("SYNC_INTERVAL", 30*time.Second),
		ImportStrict:           boolEnv("IMPORT_STRICT", true),
		RateLimitPerMin:        intEnv("RATE_LIMIT_PER_MIN", 120),
	}
	if err := validate.Struct(cfg); err != nil {
		return App{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			slog.Warn("invalid duration, using fallback", "key", key, "error", err, "fallback", fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		slog.Warn("invalid bool, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		slog.Warn("invalid int, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}
