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

// Package session routes database work to the platform catalog or to a
// tenant schema over one shared connection pool. Tenant binding is
// transaction-local: set_config('search_path', ..., true) reverts when the
// transaction ends, so pooled connections never leak a tenant's schema into
// the next checkout.
package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
)

// Router binds transactions to the catalog or to tenant schemas.
type Router struct {
	pool   *pgxpool.Pool
	envs   *meta.EnvironmentStore
	tracer observability.Tracer
}

// NewRouter creates a session router over the shared pool.
func NewRouter(pool *pgxpool.Pool, envs *meta.EnvironmentStore, tracer observability.Tracer) *Router {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Router{pool: pool, envs: envs, tracer: tracer}
}

// Pool exposes the underlying shared pool for catalog stores.
func (r *Router) Pool() *pgxpool.Pool {
	return r.pool
}

// ResolveSchema maps an environment ID to its schema name, touching the
// environment's last-used timestamp in the same statement. Fails with
// NotFound for unknown environments and StateError for environments that
// exist but are not ready.
func (r *Router) ResolveSchema(ctx context.Context, envID uuid.UUID) (string, error) {
	return r.envs.AcquireReady(ctx, envID)
}

// WithMetaSession runs fn inside a transaction with the default search path,
// committing on success.
func (r *Router) WithMetaSession(ctx context.Context, fn func(pgx.Tx) error) error {
	ctx, span := r.tracer.StartSpan(ctx, "session.meta")
	defer r.tracer.EndSpan(span)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		span.RecordError(err)
		return err
	}
	return tx.Commit(ctx)
}

// WithTenantSession runs fn inside a transaction whose search path is bound
// to the given tenant schema. Unqualified table references inside fn resolve
// against the tenant only.
func (r *Router) WithTenantSession(ctx context.Context, schemaName string, fn func(pgx.Tx) error) error {
	ctx, span := r.tracer.StartSpan(ctx, "session.tenant")
	defer r.tracer.EndSpan(span)
	span.SetAttribute("schema", schemaName)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Transaction-local binding; the third argument scopes the setting to
	// this transaction.
	if _, err := tx.Exec(ctx, "SELECT set_config('search_path', $1, true)", schemaName); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to bind tenant schema: %w", err)
	}

	if err := fn(tx); err != nil {
		span.RecordError(err)
		return err
	}
	return tx.Commit(ctx)
}

// WithEnvironmentSession resolves an environment to its schema and runs fn
// bound to it.
func (r *Router) WithEnvironmentSession(ctx context.Context, envID uuid.UUID, fn func(pgx.Tx) error) error {
	schemaName, err := r.ResolveSchema(ctx, envID)
	if err != nil {
		return err
	}
	return r.WithTenantSession(ctx, schemaName, fn)
}
