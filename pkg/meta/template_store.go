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

const templateColumns = `id, service, name, version, owner_scope, owner_org_id, owner_user_id,
	kind, location, description, created_at, updated_at`

// TemplateStore persists template environment blueprints.
type TemplateStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewTemplateStore creates a PostgreSQL-backed template store.
func NewTemplateStore(pool *pgxpool.Pool, tracer observability.Tracer) *TemplateStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &TemplateStore{pool: pool, tracer: tracer}
}

// Insert records a new template version. The unique identity constraint on
// (service, owner, name, version) rejects duplicate versions.
func (s *TemplateStore) Insert(ctx context.Context, tpl *TemplateEnvironment) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.template_store.insert")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("service", tpl.Service)
	span.SetAttribute("name", tpl.Name)

	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta.template_environments
			(id, service, name, version, owner_scope, owner_org_id, owner_user_id, kind, location, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tpl.ID, tpl.Service, tpl.Name, tpl.Version, tpl.OwnerScope,
		tpl.OwnerOrgID, tpl.OwnerUserID, tpl.Kind, tpl.Location, tpl.Description,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

// GetByID fetches a template by primary key.
func (s *TemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*TemplateEnvironment, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.template_store.get_by_id")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("template_id", id.String())

	row := s.pool.QueryRow(ctx,
		"SELECT "+templateColumns+" FROM meta.template_environments WHERE id = $1", id)
	tpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "template %s not found", id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

// FindByName resolves the newest template visible to the caller matching
// service and name. Visibility covers public templates, the caller's own
// user-scoped templates, and templates owned by any of the caller's
// organizations.
func (s *TemplateStore) FindByName(ctx context.Context, service, name string, userID *uuid.UUID, orgIDs []uuid.UUID) (*TemplateEnvironment, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.template_store.find_by_name")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("service", service)
	span.SetAttribute("name", name)

	row := s.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM meta.template_environments
		WHERE service = $1 AND name = $2
		  AND (owner_scope = 'public'
		    OR (owner_scope = 'user' AND owner_user_id = $3)
		    OR (owner_scope = 'org' AND owner_org_id = ANY($4)))
		ORDER BY created_at DESC
		LIMIT 1`,
		service, name, userID, orgIDs,
	)
	tpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "template %s/%s not found", service, name)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find template: %w", err)
	}
	return tpl, nil
}

// FindByLocation resolves templates whose location matches exactly, newest
// first. Bare schema names passed to environment creation go through this
// path before falling back to treating the value as a literal schema.
func (s *TemplateStore) FindByLocation(ctx context.Context, location string) ([]*TemplateEnvironment, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.template_store.find_by_location")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("location", location)

	rows, err := s.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM meta.template_environments
		WHERE location = $1
		ORDER BY created_at DESC`,
		location,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query templates by location: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// List returns the visible templates, newest version first, deduplicated so
// each (service, name) pair appears once.
func (s *TemplateStore) List(ctx context.Context, userID *uuid.UUID, orgIDs []uuid.UUID) ([]*TemplateEnvironment, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.template_store.list")
	defer s.tracer.EndSpan(span)

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (service, name) `+templateColumns+`
		FROM meta.template_environments
		WHERE owner_scope = 'public'
		   OR (owner_scope = 'user' AND owner_user_id = $1)
		   OR (owner_scope = 'org' AND owner_org_id = ANY($2))
		ORDER BY service, name, created_at DESC`,
		userID, orgIDs,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates, err := collectTemplates(rows)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute("count", len(templates))
	return templates, nil
}

func scanTemplate(row pgx.Row) (*TemplateEnvironment, error) {
	var tpl TemplateEnvironment
	err := row.Scan(
		&tpl.ID, &tpl.Service, &tpl.Name, &tpl.Version, &tpl.OwnerScope,
		&tpl.OwnerOrgID, &tpl.OwnerUserID, &tpl.Kind, &tpl.Location,
		&tpl.Description, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func collectTemplates(rows pgx.Rows) ([]*TemplateEnvironment, error) {
	var templates []*TemplateEnvironment
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}
