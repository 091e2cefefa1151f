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
package meta

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/crucible/pkg/observability"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration is one versioned catalog schema change.
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
}

// Migrator applies embedded SQL migrations to the platform catalog.
type Migrator struct {
	pool       *pgxpool.Pool
	tracer     observability.Tracer
	migrations []Migration
}

// catalogAdvisoryLockID serializes migration runs across server instances.
const catalogAdvisoryLockID = 471920386 // arbitrary constant

// NewMigrator creates a migrator backed by the embedded migration files.
func NewMigrator(pool *pgxpool.Pool, tracer observability.Tracer) (*Migrator, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	return &Migrator{
		pool:       pool,
		tracer:     tracer,
		migrations: migrations,
	}, nil
}

// MigrateUp applies every pending migration in version order, holding a
// PostgreSQL advisory lock for the duration so concurrent instances do not
// race.
func (m *Migrator) MigrateUp(ctx context.Context) error {
	ctx, span := m.tracer.StartSpan(ctx, "meta.migrator.migrate_up")
	defer m.tracer.EndSpan(span)

	if _, err := m.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", catalogAdvisoryLockID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		// Best-effort; the lock is released on disconnect regardless.
		_, _ = m.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", catalogAdvisoryLockID)
	}()

	if err := m.ensureVersionTable(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttribute("current_version", current)

	applied := 0
	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			span.RecordError(err)
			return fmt.Errorf("migration %d failed: %w", mig.Version, err)
		}
		applied++
	}

	span.SetAttribute("migrations_applied", applied)
	return nil
}

// MigrateDown rolls back up to steps migrations, newest first.
func (m *Migrator) MigrateDown(ctx context.Context, steps int) error {
	ctx, span := m.tracer.StartSpan(ctx, "meta.migrator.migrate_down")
	defer m.tracer.EndSpan(span)

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttribute("current_version", current)
	span.SetAttribute("steps", steps)

	rolled := 0
	for i := len(m.migrations) - 1; i >= 0 && rolled < steps; i-- {
		mig := m.migrations[i]
		if mig.Version > current {
			continue
		}
		if err := m.rollback(ctx, mig); err != nil {
			span.RecordError(err)
			return fmt.Errorf("rollback of migration %d failed: %w", mig.Version, err)
		}
		rolled++
	}

	span.SetAttribute("migrations_rolled_back", rolled)
	return nil
}

// CurrentVersion returns the highest applied migration version, 0 when none.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations",
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return version, nil
}

// PendingMigrations lists migrations newer than the current version.
func (m *Migrator) PendingMigrations(ctx context.Context) ([]Migration, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mig := range m.migrations {
		if mig.Version > current {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			description TEXT
		)
	`)
	return err
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
		mig.Version, mig.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}

	return tx.Commit(ctx)
}

func (m *Migrator) rollback(ctx context.Context, mig Migration) error {
	if mig.DownSQL == "" {
		return fmt.Errorf("no down migration for version %d", mig.Version)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"DELETE FROM schema_migrations WHERE version = $1", mig.Version,
	); err != nil {
		return fmt.Errorf("failed to remove migration version: %w", err)
	}

	return tx.Commit(ctx)
}

// loadMigrations pairs the embedded NNNNNN_description.{up,down}.sql files
// into a version-sorted list.
func loadMigrations() ([]Migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()

		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}
		switch {
		case strings.HasSuffix(parts[1], ".up.sql"):
			mig.Description = strings.TrimSuffix(parts[1], ".up.sql")
			mig.UpSQL = string(content)
		case strings.HasSuffix(parts[1], ".down.sql"):
			mig.DownSQL = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.UpSQL == "" {
			return nil, fmt.Errorf("migration %d has no up file", mig.Version)
		}
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	return migrations, nil
}
