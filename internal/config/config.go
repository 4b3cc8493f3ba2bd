// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mail service. Mail identities and
// their credentials are data in the database, not configuration.
type Config struct {
	// Postgres
	DatabaseURL string

	// Redis
	RedisURL           string
	ConfirmationsQueue string

	// Server
	Port int

	// Delivery
	DialTimeout      time.Duration
	DrainSchedule    string // cron expression; empty = drain only on request
	IdentityCacheTTL time.Duration

	// Rendering
	Timezone string
	Location *time.Location

	// Sentry
	SentryDSN         string
	SentryEnvironment string

	LogLevel slog.Level
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Confirmations string `yaml:"confirmations"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Delivery struct {
		DialTimeout      string `yaml:"dial_timeout"`
		Schedule         string `yaml:"schedule"`
		IdentityCacheTTL string `yaml:"identity_cache_ttl"`
	} `yaml:"delivery"`
	Render struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"render"`
	Sentry struct {
		DSN         string `yaml:"dsn"`
		Environment string `yaml:"environment"`
	} `yaml:"sentry"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// falls back to environment variables for every value the file leaves
// empty. A missing file is not an error; the environment alone may
// configure the service.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("config file not found, using environment only", "path", configPath)
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:        firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:           firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		ConfirmationsQueue: firstNonEmpty(raw.Redis.Queues.Confirmations, envOrDefault("CONFIRMATIONS_QUEUE", "mailflow:confirmations")),
		Port:               firstPositive(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
		DrainSchedule:      firstNonEmpty(raw.Delivery.Schedule, os.Getenv("DRAIN_SCHEDULE")),
		Timezone:           firstNonEmpty(raw.Render.Timezone, envOrDefault("RENDER_TIMEZONE", "Europe/Berlin")),
		SentryDSN:          firstNonEmpty(raw.Sentry.DSN, os.Getenv("SENTRY_DSN")),
		SentryEnvironment:  firstNonEmpty(raw.Sentry.Environment, envOrDefault("SENTRY_ENVIRONMENT", "production")),
	}

	if cfg.DialTimeout, err = durationOr(raw.Delivery.DialTimeout, "SMTP_DIAL_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdentityCacheTTL, err = durationOr(raw.Delivery.IdentityCacheTTL, "IDENTITY_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database configured: set database.url or DATABASE_URL")
	}

	if cfg.Location, err = time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("render timezone %q: %w", cfg.Timezone, err)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envOrDefault("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// durationOr parses the YAML value when set, else the environment key,
// else returns fallback.
func durationOr(yamlValue, envKey string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(yamlValue); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", v, err)
		}
		return d, nil
	}
	return envOrDefaultDuration(envKey, fallback), nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
