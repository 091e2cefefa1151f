// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/teradata-labs/crucible/internal/pgxdriver"
	"github.com/teradata-labs/crucible/pkg/isolation"
	"github.com/teradata-labs/crucible/pkg/server"
)

// DefaultConfigFileName is the name of the config file
const DefaultConfigFileName = "crucibled"

// Authentication modes.
const (
	AuthModeDev          = "dev"
	AuthModeAPIKey       = "apikey"
	AuthModeControlPlane = "control_plane"
)

// EnvDevelopment is the deployment mode that bypasses auth with a fixed
// platform-admin principal.
const EnvDevelopment = "development"

// Config holds all configuration for the Crucible daemon.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// Env is the deployment mode (CRUCIBLE_ENV); "development" forces dev
	// auth regardless of auth.mode.
	Env string `mapstructure:"env"`

	Server   ServerConfig     `mapstructure:"server"`
	Database pgxdriver.Config `mapstructure:"database"`
	Auth     AuthConfig       `mapstructure:"auth"`
	Logging  LoggingConfig    `mapstructure:"logging"`
	Suites   SuitesConfig     `mapstructure:"suites"`
	Sweeper  SweeperConfig    `mapstructure:"sweeper"`
	Diff     DiffConfig       `mapstructure:"diff"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string     `mapstructure:"addr"`
	CORS CORSConfig `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// AuthConfig selects how callers are authenticated.
//
// dev resolves every request to a fixed platform-admin principal, apikey
// verifies ak_* tokens against the catalog, control_plane forwards the
// Authorization header to an external service.
type AuthConfig struct {
	Mode                  string `mapstructure:"mode"`
	ControlPlaneURL       string `mapstructure:"control_plane_url"`
	ControlPlaneTimeoutMS int    `mapstructure:"control_plane_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SuitesConfig seeds test suites from YAML files on disk.
type SuitesConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// SweeperConfig controls expired-environment cleanup.
type SweeperConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// DiffConfig tunes snapshot comparison.
type DiffConfig struct {
	// ExcludeColumns are never compared, typically volatile bookkeeping
	// like updated_at.
	ExcludeColumns []string `mapstructure:"exclude_columns"`
}

// ServerCORS converts the config shape into the server package's.
func (c *Config) ServerCORS() server.CORSConfig {
	return server.CORSConfig{
		Enabled:          c.Server.CORS.Enabled,
		AllowedOrigins:   c.Server.CORS.AllowedOrigins,
		AllowedMethods:   c.Server.CORS.AllowedMethods,
		AllowedHeaders:   c.Server.CORS.AllowedHeaders,
		AllowCredentials: c.Server.CORS.AllowCredentials,
		MaxAge:           c.Server.CORS.MaxAge,
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/crucible/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	viper.SetEnvPrefix("CRUCIBLE")
	// Nested keys map to underscore-separated variables, e.g. database.host
	// reads CRUCIBLE_DATABASE_HOST.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Conventional variables bound outside the prefix scheme.
	viper.BindEnv("database.dsn", "DATABASE_URL")                         //nolint:errcheck
	viper.BindEnv("auth.control_plane_url", "CRUCIBLE_CONTROL_PLANE_URL") //nolint:errcheck
	viper.BindEnv("env", "CRUCIBLE_ENV")                                  //nolint:errcheck

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if config.Env == EnvDevelopment {
		config.Auth.Mode = AuthModeDev
	}
	return &config, nil
}

// setDefaults sets default configuration values. Keys must be declared here
// (even when empty) for the environment-variable mapping to see them.
func setDefaults() {
	viper.SetDefault("env", "")

	viper.SetDefault("server.addr", ":8080")

	// CORS defaults (permissive for development, configure for production)
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	viper.SetDefault("server.cors.allowed_headers", []string{"*"})
	viper.SetDefault("server.cors.allow_credentials", false)
	viper.SetDefault("server.cors.max_age", 86400)

	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.host", "")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "")
	viper.SetDefault("database.user", "")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "require")

	viper.SetDefault("auth.mode", AuthModeDev)
	viper.SetDefault("auth.control_plane_url", "")
	viper.SetDefault("auth.control_plane_timeout_ms", 5000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("suites.dir", "")
	viper.SetDefault("suites.watch", true)

	viper.SetDefault("sweeper.enabled", true)
	viper.SetDefault("sweeper.schedule", isolation.DefaultSweepSchedule)

	viper.SetDefault("diff.exclude_columns", []string{"updated_at"})
}
