package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr string
}

// AppConfig is the process-level config shared by every binary. Service
// specific settings live in the service's own config package.
type AppConfig struct {
	ServiceName     string
	Env             string
	LogLevel        string
	HTTP            HTTPConfig
	ShutdownTimeout time.Duration
}

// IsProduction reports whether APP_ENV=production. Production refuses
// in-memory fallbacks and unauthenticated admin routes.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: env("SERVICE_NAME"),
		Env:         env("APP_ENV"),
		LogLevel:    env("LOG_LEVEL"),
		HTTP:        HTTPConfig{Addr: env("HTTP_ADDR")},
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if cfg.HTTP.Addr == "" {
		// Container platforms hand out PORT only.
		if port := env("PORT"); port != "" {
			cfg.HTTP.Addr = ":" + port
		} else {
			cfg.HTTP.Addr = ":8080"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	cfg.ShutdownTimeout = 10 * time.Second
	if raw := env("SHUTDOWN_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return AppConfig{}, errors.New("SHUTDOWN_TIMEOUT must be a positive duration")
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
