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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/observability"
)

const runColumns = `id, test_id, test_suite_id, environment_id, status,
	before_snapshot_suffix, after_snapshot_suffix, result, created_by, created_at, updated_at`

// RunStore persists test run records.
type RunStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewRunStore creates a PostgreSQL-backed run store.
func NewRunStore(pool *pgxpool.Pool, tracer observability.Tracer) *RunStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &RunStore{pool: pool, tracer: tracer}
}

// Insert records a new run.
func (s *RunStore) Insert(ctx context.Context, run *TestRun) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.run_store.insert")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("run_id", run.ID.String())

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta.test_runs
			(id, test_id, test_suite_id, environment_id, status, before_snapshot_suffix, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.TestID, run.TestSuiteID, run.EnvironmentID, run.Status,
		run.BeforeSnapshotSuffix, run.CreatedBy,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Get fetches a run by ID.
func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (*TestRun, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.run_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("run_id", id.String())

	row := s.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM meta.test_runs WHERE id = $1", id)

	var run TestRun
	err := row.Scan(
		&run.ID, &run.TestID, &run.TestSuiteID, &run.EnvironmentID, &run.Status,
		&run.BeforeSnapshotSuffix, &run.AfterSnapshotSuffix, &run.Result,
		&run.CreatedBy, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "run %s not found", id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// Finish stores the terminal status, after-snapshot suffix, and result
// document for a run.
func (s *RunStore) Finish(ctx context.Context, id uuid.UUID, status string, afterSuffix *string, result []byte) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.run_store.finish")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("run_id", id.String())
	span.SetAttribute("status", status)

	tag, err := s.pool.Exec(ctx, `
		UPDATE meta.test_runs
		SET status = $2, after_snapshot_suffix = $3, result = $4, updated_at = NOW()
		WHERE id = $1`,
		id, status, afterSuffix, result,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.NotFound, "run %s not found", id)
	}
	return nil
}

// ListForEnvironment returns the runs recorded against an environment,
// newest first.
func (s *RunStore) ListForEnvironment(ctx context.Context, envID uuid.UUID) ([]*TestRun, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.run_store.list_for_environment")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("environment_id", envID.String())

	rows, err := s.pool.Query(ctx,
		"SELECT "+runColumns+" FROM meta.test_runs WHERE environment_id = $1 ORDER BY created_at DESC",
		envID,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*TestRun
	for rows.Next() {
		var run TestRun
		if err := rows.Scan(
			&run.ID, &run.TestID, &run.TestSuiteID, &run.EnvironmentID, &run.Status,
			&run.BeforeSnapshotSuffix, &run.AfterSnapshotSuffix, &run.Result,
			&run.CreatedBy, &run.CreatedAt, &run.UpdatedAt,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &run)
	}
	span.SetAttribute("count", len(runs))
	return runs, rows.Err()
}
