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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/observability"
)

const environmentColumns = `id, template_id, schema_name, status, expires_at, last_used_at,
	created_by, impersonate_user_id, impersonate_email, created_at, updated_at`

// EnvironmentStore persists runtime environment records.
type EnvironmentStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewEnvironmentStore creates a PostgreSQL-backed runtime environment store.
func NewEnvironmentStore(pool *pgxpool.Pool, tracer observability.Tracer) *EnvironmentStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &EnvironmentStore{pool: pool, tracer: tracer}
}

// InsertTx records a new environment inside the caller's transaction. The
// provisioning engine uses this so the catalog row and the cloned schema
// commit or roll back together.
func (s *EnvironmentStore) InsertTx(ctx context.Context, tx pgx.Tx, env *RuntimeEnvironment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO meta.runtime_environments
			(id, template_id, schema_name, status, expires_at, created_by, impersonate_user_id, impersonate_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		env.ID, env.TemplateID, env.SchemaName, env.Status, env.ExpiresAt,
		env.CreatedBy, env.ImpersonateUserID, env.ImpersonateEmail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert environment: %w", err)
	}
	return nil
}

// Get fetches an environment by ID.
func (s *EnvironmentStore) Get(ctx context.Context, id uuid.UUID) (*RuntimeEnvironment, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.environment_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("environment_id", id.String())

	row := s.pool.QueryRow(ctx,
		"SELECT "+environmentColumns+" FROM meta.runtime_environments WHERE id = $1", id)

	var env RuntimeEnvironment
	err := row.Scan(
		&env.ID, &env.TemplateID, &env.SchemaName, &env.Status, &env.ExpiresAt,
		&env.LastUsedAt, &env.CreatedBy, &env.ImpersonateUserID, &env.ImpersonateEmail,
		&env.CreatedAt, &env.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "environment %s not found", id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	return &env, nil
}

// AcquireReady resolves the schema name for a ready environment and touches
// its last_used_at in the same statement, so concurrent use and the TTL
// sweeper cannot race. Returns a StateError when the environment exists but
// is not ready.
func (s *EnvironmentStore) AcquireReady(ctx context.Context, id uuid.UUID) (string, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.environment_store.acquire_ready")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("environment_id", id.String())

	var schemaName string
	err := s.pool.QueryRow(ctx, `
		UPDATE meta.runtime_environments
		SET last_used_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'ready'
		RETURNING schema_name`,
		id,
	).Scan(&schemaName)
	if err == nil {
		return schemaName, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return "", fmt.Errorf("failed to acquire environment: %w", err)
	}

	// No ready row. Distinguish a missing environment from one in the
	// wrong state.
	var status string
	err = s.pool.QueryRow(ctx,
		"SELECT status FROM meta.runtime_environments WHERE id = $1", id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fault.Newf(fault.NotFound, "environment %s not found", id)
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to check environment status: %w", err)
	}
	return "", fault.Newf(fault.StateError, "environment_not_available: environment %s is %s", id, status)
}

// UpdateStatus transitions an environment to the given status.
func (s *EnvironmentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.environment_store.update_status")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("environment_id", id.String())
	span.SetAttribute("status", status)

	tag, err := s.pool.Exec(ctx, `
		UPDATE meta.runtime_environments
		SET status = $2, updated_at = NOW()
		WHERE id = $1`,
		id, status,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update environment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.NotFound, "environment %s not found", id)
	}
	return nil
}

// ListExpired returns ready environments whose TTL elapsed before the cutoff.
func (s *EnvironmentStore) ListExpired(ctx context.Context, cutoff time.Time) ([]*RuntimeEnvironment, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.environment_store.list_expired")
	defer s.tracer.EndSpan(span)

	rows, err := s.pool.Query(ctx, `
		SELECT `+environmentColumns+`
		FROM meta.runtime_environments
		WHERE status = 'ready' AND expires_at IS NOT NULL AND expires_at < $1`,
		cutoff,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list expired environments: %w", err)
	}
	defer rows.Close()

	var envs []*RuntimeEnvironment
	for rows.Next() {
		var env RuntimeEnvironment
		if err := rows.Scan(
			&env.ID, &env.TemplateID, &env.SchemaName, &env.Status, &env.ExpiresAt,
			&env.LastUsedAt, &env.CreatedBy, &env.ImpersonateUserID, &env.ImpersonateEmail,
			&env.CreatedAt, &env.UpdatedAt,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, &env)
	}
	span.SetAttribute("count", len(envs))
	return envs, rows.Err()
}
