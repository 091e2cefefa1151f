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

const suiteColumns = `id, name, description, owner, visibility, created_at, updated_at`

// SuiteStore persists test suites and their memberships.
type SuiteStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewSuiteStore creates a PostgreSQL-backed suite store.
func NewSuiteStore(pool *pgxpool.Pool, tracer observability.Tracer) *SuiteStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &SuiteStore{pool: pool, tracer: tracer}
}

// Insert records a new suite.
func (s *SuiteStore) Insert(ctx context.Context, suite *TestSuite) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.suite_store.insert")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("suite_name", suite.Name)

	if suite.ID == uuid.Nil {
		suite.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta.test_suites (id, name, description, owner, visibility)
		VALUES ($1, $2, $3, $4, $5)`,
		suite.ID, suite.Name, suite.Description, suite.Owner, suite.Visibility,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert suite: %w", err)
	}
	return nil
}

// Get fetches a suite by ID.
func (s *SuiteStore) Get(ctx context.Context, id uuid.UUID) (*TestSuite, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.suite_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("suite_id", id.String())

	row := s.pool.QueryRow(ctx, "SELECT "+suiteColumns+" FROM meta.test_suites WHERE id = $1", id)
	suite, err := scanSuite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "suite %s not found", id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get suite: %w", err)
	}
	return suite, nil
}

// FindByName fetches a suite by its unique name, or nil when absent.
func (s *SuiteStore) FindByName(ctx context.Context, name string) (*TestSuite, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.suite_store.find_by_name")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("suite_name", name)

	row := s.pool.QueryRow(ctx, "SELECT "+suiteColumns+" FROM meta.test_suites WHERE name = $1", name)
	suite, err := scanSuite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find suite: %w", err)
	}
	return suite, nil
}

// List returns suites visible to the owner: public suites plus the owner's
// private ones. An empty owner lists only public suites.
func (s *SuiteStore) List(ctx context.Context, owner string) ([]*TestSuite, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.suite_store.list")
	defer s.tracer.EndSpan(span)

	rows, err := s.pool.Query(ctx, `
		SELECT `+suiteColumns+`
		FROM meta.test_suites
		WHERE visibility = 'public' OR owner = $1
		ORDER BY name`,
		owner,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list suites: %w", err)
	}
	defer rows.Close()

	var suites []*TestSuite
	for rows.Next() {
		suite, err := scanSuite(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan suite: %w", err)
		}
		suites = append(suites, suite)
	}
	span.SetAttribute("count", len(suites))
	return suites, rows.Err()
}

// AddTest links a test into a suite. Adding the same test twice is a no-op.
func (s *SuiteStore) AddTest(ctx context.Context, suiteID, testID uuid.UUID) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.suite_store.add_test")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("suite_id", suiteID.String())
	span.SetAttribute("test_id", testID.String())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta.test_memberships (test_suite_id, test_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		suiteID, testID,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to add test to suite: %w", err)
	}
	return nil
}

// TestsForSuite returns the tests belonging to a suite.
func (s *SuiteStore) TestsForSuite(ctx context.Context, suiteID uuid.UUID) ([]*Test, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.suite_store.tests_for_suite")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("suite_id", suiteID.String())

	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.name, t.prompt, t.type, t.expected_output, t.template_ref,
			t.impersonate_user_id, t.created_at, t.updated_at
		FROM meta.tests t
		JOIN meta.test_memberships m ON m.test_id = t.id
		WHERE m.test_suite_id = $1
		ORDER BY t.name`,
		suiteID,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query suite tests: %w", err)
	}
	defer rows.Close()

	var tests []*Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}
		tests = append(tests, t)
	}
	span.SetAttribute("count", len(tests))
	return tests, rows.Err()
}

// SuitesForTest returns the suites a test belongs to. Access checks use this
// to decide whether any suite containing the test is visible to the caller.
func (s *SuiteStore) SuitesForTest(ctx context.Context, testID uuid.UUID) ([]*TestSuite, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.suite_store.suites_for_test")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("test_id", testID.String())

	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.name, s.description, s.owner, s.visibility, s.created_at, s.updated_at
		FROM meta.test_suites s
		JOIN meta.test_memberships m ON m.test_suite_id = s.id
		WHERE m.test_id = $1`,
		testID,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query suites for test: %w", err)
	}
	defer rows.Close()

	var suites []*TestSuite
	for rows.Next() {
		suite, err := scanSuite(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan suite: %w", err)
		}
		suites = append(suites, suite)
	}
	return suites, rows.Err()
}

func scanSuite(row pgx.Row) (*TestSuite, error) {
	var suite TestSuite
	err := row.Scan(
		&suite.ID, &suite.Name, &suite.Description, &suite.Owner,
		&suite.Visibility, &suite.CreatedAt, &suite.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &suite, nil
}
