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

const testColumns = `id, name, prompt, type, expected_output, template_ref,
	impersonate_user_id, created_at, updated_at`

// TestStore persists test definitions.
type TestStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewTestStore creates a PostgreSQL-backed test store.
func NewTestStore(pool *pgxpool.Pool, tracer observability.Tracer) *TestStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &TestStore{pool: pool, tracer: tracer}
}

// Insert records a new test. ExpectedOutput must already be in canonical
// compiled form for actionEval tests.
func (s *TestStore) Insert(ctx context.Context, t *Test) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.test_store.insert")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("test_name", t.Name)

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta.tests (id, name, prompt, type, expected_output, template_ref, impersonate_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Prompt, t.Type, t.ExpectedOutput, t.TemplateRef, t.ImpersonateUserID,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert test: %w", err)
	}
	return nil
}

// Get fetches a test by ID.
func (s *TestStore) Get(ctx context.Context, id uuid.UUID) (*Test, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.test_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("test_id", id.String())

	row := s.pool.QueryRow(ctx, "SELECT "+testColumns+" FROM meta.tests WHERE id = $1", id)
	t, err := scanTest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "test %s not found", id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return t, nil
}

// UpdateExpectedOutput replaces the compiled expectation for a test.
func (s *TestStore) UpdateExpectedOutput(ctx context.Context, id uuid.UUID, expected []byte) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.test_store.update_expected_output")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("test_id", id.String())

	tag, err := s.pool.Exec(ctx, `
		UPDATE meta.tests SET expected_output = $2, updated_at = NOW() WHERE id = $1`,
		id, expected,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update test: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.NotFound, "test %s not found", id)
	}
	return nil
}

func scanTest(row pgx.Row) (*Test, error) {
	var t Test
	err := row.Scan(
		&t.ID, &t.Name, &t.Prompt, &t.Type, &t.ExpectedOutput, &t.TemplateRef,
		&t.ImpersonateUserID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
