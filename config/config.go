// Package config loads server configuration from defaults, an optional
// YAML file, a .env file and LEAVE_* environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override (LEAVE_SERVER_PORT, ...).
const EnvPrefix = "LEAVE"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects and configures the store
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`   // sqlite file, ":memory:" for ephemeral
	DSN      string `mapstructure:"dsn"`    // postgres connection string
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// EngineConfig tunes the consumption engine and balance views
type EngineConfig struct {
	MaxRetries         int `mapstructure:"max_retries"`
	ExpiringWindowDays int `mapstructure:"expiring_window_days"`
}

// ScheduleConfig points at an optional entitlement table; empty = statutory.
type ScheduleConfig struct {
	File string `mapstructure:"file"`
}

// SchedulerConfig controls the background grant issuer
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load loads configuration. configPath may be empty.
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "yukyu.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.expiring_window_days", 90)

	v.SetDefault("schedule.file", "")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", 24*time.Hour)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported (sqlite, postgres)", c.Database.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Engine.MaxRetries <= 0 {
		errs = append(errs, errors.New("engine.max_retries must be positive"))
	}
	if c.Engine.ExpiringWindowDays < 0 {
		errs = append(errs, errors.New("engine.expiring_window_days must not be negative"))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive when the scheduler is enabled"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
