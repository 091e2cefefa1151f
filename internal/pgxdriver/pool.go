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
package pgxdriver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/crucible/pkg/observability"
)

// Config describes the PostgreSQL connection shared by all tenants.
// If DSN is set, it takes precedence over the individual connection fields.
type Config struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`

	Pool PoolConfig `mapstructure:"pool"`
}

// PoolConfig tunes pgxpool sizing. Zero values fall back to defaults.
type PoolConfig struct {
	MaxConnections             int32 `mapstructure:"max_connections"`
	MinConnections             int32 `mapstructure:"min_connections"`
	MaxIdleTimeSeconds         int   `mapstructure:"max_idle_time_seconds"`
	MaxLifetimeSeconds         int   `mapstructure:"max_lifetime_seconds"`
	HealthCheckIntervalSeconds int   `mapstructure:"health_check_interval_seconds"`
}

// NewPool creates a pgxpool.Pool from configuration.
//
// Tenant binding is deliberately NOT done here: the session router pins each
// transaction to a tenant schema with a transaction-local search_path, so a
// single pool serves every tenant plus the meta catalog.
func NewPool(ctx context.Context, cfg Config, tracer observability.Tracer) (*pgxpool.Pool, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	ctx, span := tracer.StartSpan(ctx, "pgxdriver.new_pool")
	defer tracer.EndSpan(span)

	dsn := buildDSN(cfg)
	if dsn == "" {
		return nil, fmt.Errorf("postgres configuration requires either dsn or host+database")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}

	applyPoolConfig(poolCfg, cfg.Pool)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	span.SetAttribute("pool.max_conns", poolCfg.MaxConns)
	span.SetAttribute("pool.min_conns", poolCfg.MinConns)

	return pool, nil
}

// buildDSN constructs a PostgreSQL connection string from config.
// Values are single-quoted per libpq keyword/value format to handle special
// characters (spaces, @, =, etc.) safely. See:
// https://www.postgresql.org/docs/current/libpq-connect.html#LIBPQ-CONNSTRING
func buildDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	if cfg.Host == "" || cfg.Database == "" {
		return ""
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		dsnQuoteValue(cfg.Host), port, dsnQuoteValue(cfg.Database), dsnQuoteValue(sslMode))

	if cfg.User != "" {
		dsn += fmt.Sprintf(" user=%s", dsnQuoteValue(cfg.User))
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", dsnQuoteValue(cfg.Password))
	}

	return dsn
}

// dsnQuoteValue quotes a value for use in a libpq keyword/value connection
// string. Single quotes and backslashes are escaped with a backslash. For
// simplicity and safety, we always quote all values.
func dsnQuoteValue(val string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(val)
	return "'" + escaped + "'"
}

// applyPoolConfig maps pool settings to pgxpool.Config.
func applyPoolConfig(poolCfg *pgxpool.Config, cfg PoolConfig) {
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	} else {
		poolCfg.MaxConns = 25
	}

	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	} else {
		poolCfg.MinConns = 5
	}

	if cfg.MaxIdleTimeSeconds > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.MaxIdleTimeSeconds) * time.Second
	} else {
		poolCfg.MaxConnIdleTime = 5 * time.Minute
	}

	if cfg.MaxLifetimeSeconds > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.MaxLifetimeSeconds) * time.Second
	} else {
		poolCfg.MaxConnLifetime = 1 * time.Hour
	}

	if cfg.HealthCheckIntervalSeconds > 0 {
		poolCfg.HealthCheckPeriod = time.Duration(cfg.HealthCheckIntervalSeconds) * time.Second
	} else {
		poolCfg.HealthCheckPeriod = 30 * time.Second
	}
}
