// Package config loads the gateway's configuration from the process
// environment (and an optional .env file), following the teacher's
// typed-getter pattern.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete application configuration.
type Config struct {
	Server          ServerConfig
	Store           StoreConfig
	Admin           AdminConfig
	Observability   ObservabilityConfig
	VirtualModels   map[string]string // virtual model name -> pool tag
	DefaultCooldown time.Duration
	Environment     string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver          string // "postgres" or "memory"
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSinkCapacity int
}

// AdminConfig configures the admin API's single-password auth.
type AdminConfig struct {
	Password      string
	SessionSecret string
	SessionTTL    time.Duration
}

// ObservabilityConfig holds logging configuration.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // "json" or "console"
}

// New loads Config from the environment.
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("API_PORT", 8899),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Driver:          getEnv("STORE_DRIVER", "postgres"),
			DatabaseURL:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			LogSinkCapacity: getEnvAsInt("LOG_SINK_CAPACITY", 10000),
		},
		Admin: AdminConfig{
			Password:      getEnv("ADMIN_PASSWORD", "admin123"),
			SessionSecret: getEnv("ADMIN_SESSION_SECRET", ""),
			SessionTTL:    time.Duration(getEnvAsInt("ADMIN_SESSION_TTL_SECONDS", 3600)) * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
		VirtualModels: map[string]string{
			getEnv("VIRTUAL_MODEL_TOOL", "haiku"):    "tool",
			getEnv("VIRTUAL_MODEL_NORMAL", "sonnet"): "normal",
			getEnv("VIRTUAL_MODEL_ADVANCED", "opus"): "advanced",
		},
		DefaultCooldown: time.Duration(getEnvAsInt("DEFAULT_COOLDOWN_SECONDS", 60)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields are present and consistent.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "memory":
		// no further requirements
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q: must be postgres or memory", c.Store.Driver)
	}

	if c.Admin.Password == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required")
	}
	if c.Admin.SessionSecret == "" {
		return fmt.Errorf("ADMIN_SESSION_SECRET is required")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT names a production deploy.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// Address returns the HTTP server's listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
