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

// Package isolation provisions tenant schemas by deep-cloning template
// schemas, and marks them expired when their TTL elapses.
package isolation

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/teradata-labs/crucible/internal/log"
	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
	"github.com/teradata-labs/crucible/pkg/session"
	"go.uber.org/zap"
)

// DefaultTTL is applied when environment creation does not specify one.
const DefaultTTL = 30 * time.Minute

// snapshotMarker tags snapshot tables so structure and data cloning skip them.
const snapshotMarker = "_snapshot_"

// Engine clones template schemas into isolated runtime environments.
type Engine struct {
	router    *session.Router
	templates *meta.TemplateStore
	envs      *meta.EnvironmentStore
	tests     *meta.TestStore
	tracer    observability.Tracer
}

// NewEngine creates a provisioning engine.
func NewEngine(router *session.Router, templates *meta.TemplateStore, envs *meta.EnvironmentStore, tests *meta.TestStore, tracer observability.Tracer) *Engine {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Engine{
		router:    router,
		templates: templates,
		envs:      envs,
		tests:     tests,
		tracer:    tracer,
	}
}

// CreateOptions carries the optional knobs for environment creation.
type CreateOptions struct {
	TTL               time.Duration
	CreatedBy         string
	ImpersonateUserID *string
	ImpersonateEmail  *string
}

// CreateEnvironment clones the given source schema into a fresh tenant
// schema and binds a catalog record to it. The schema clone and the catalog
// insert share one transaction, so a failure at any step leaves no
// partially-populated tenant behind.
func (e *Engine) CreateEnvironment(ctx context.Context, sourceSchema string, templateID *uuid.UUID, opts CreateOptions) (*meta.RuntimeEnvironment, error) {
	ctx, span := e.tracer.StartSpan(ctx, "isolation.create_environment")
	defer e.tracer.EndSpan(span)
	span.SetAttribute("source_schema", sourceSchema)

	// Locations are bare schema names; URI-style locations name loaders this
	// platform does not provide.
	if strings.Contains(sourceSchema, "://") {
		return nil, fault.Newf(fault.BadRequest, "template_location_unrecognized: %s", sourceSchema)
	}

	envID := uuid.New()
	schemaName := "state_" + hex.EncodeToString(envID[:])
	span.SetAttribute("schema", schemaName)

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	expiresAt := time.Now().UTC().Add(ttl)

	env := &meta.RuntimeEnvironment{
		ID:                envID,
		TemplateID:        templateID,
		SchemaName:        schemaName,
		Status:            meta.EnvStatusReady,
		ExpiresAt:         &expiresAt,
		CreatedBy:         opts.CreatedBy,
		ImpersonateUserID: opts.ImpersonateUserID,
		ImpersonateEmail:  opts.ImpersonateEmail,
	}

	err := e.router.WithMetaSession(ctx, func(tx pgx.Tx) error {
		tables, err := listBaseTables(ctx, tx, sourceSchema)
		if err != nil {
			return err
		}
		if len(tables) == 0 {
			return fault.Newf(fault.NotFound, "template_schema_not_registered: schema %s has no tables", sourceSchema)
		}

		if _, err := tx.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schemaName}.Sanitize()); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		if err := cloneStructure(ctx, tx, sourceSchema, schemaName, tables); err != nil {
			return err
		}
		if err := cloneData(ctx, tx, sourceSchema, schemaName, tables); err != nil {
			return err
		}
		if err := rebaseSequences(ctx, tx, schemaName, tables); err != nil {
			return err
		}
		return e.envs.InsertTx(ctx, tx, env)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	log.Info("environment created",
		zap.String("environment_id", envID.String()),
		zap.String("schema", schemaName),
		zap.String("source_schema", sourceSchema),
		zap.Time("expires_at", expiresAt))
	return env, nil
}

// DeleteEnvironment drops a tenant schema and marks its record deleted.
// Deleting an already-deleted environment is a no-op.
func (e *Engine) DeleteEnvironment(ctx context.Context, envID uuid.UUID) error {
	ctx, span := e.tracer.StartSpan(ctx, "isolation.delete_environment")
	defer e.tracer.EndSpan(span)
	span.SetAttribute("environment_id", envID.String())

	env, err := e.envs.Get(ctx, envID)
	if err != nil {
		return err
	}
	if env.Status == meta.EnvStatusDeleted {
		return nil
	}

	err = e.router.WithMetaSession(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{env.SchemaName}.Sanitize()+" CASCADE")
		if err != nil {
			return fmt.Errorf("failed to drop schema: %w", err)
		}
		_, err = tx.Exec(ctx,
			"UPDATE meta.runtime_environments SET status = 'deleted', updated_at = NOW() WHERE id = $1", envID)
		if err != nil {
			return fmt.Errorf("failed to mark environment deleted: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	log.Info("environment deleted",
		zap.String("environment_id", envID.String()),
		zap.String("schema", env.SchemaName))
	return nil
}

// listBaseTables returns the base tables of a schema, snapshot tables
// excluded, in name order.
func listBaseTables(ctx context.Context, tx pgx.Tx, schema string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`,
		schema,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if strings.Contains(name, snapshotMarker) {
			continue
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// cloneStructure creates each table in the target schema via LIKE INCLUDING
// ALL, then repairs the two things LIKE gets wrong across schemas: serial
// column defaults still point at the template's sequences, and foreign keys
// are not copied at all.
func cloneStructure(ctx context.Context, tx pgx.Tx, source, target string, tables []string) error {
	for _, table := range tables {
		stmt := fmt.Sprintf("CREATE TABLE %s.%s (LIKE %s.%s INCLUDING ALL)",
			pgx.Identifier{target}.Sanitize(), pgx.Identifier{table}.Sanitize(),
			pgx.Identifier{source}.Sanitize(), pgx.Identifier{table}.Sanitize())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clone table %s: %w", table, err)
		}
		if err := retargetSequences(ctx, tx, source, target, table); err != nil {
			return err
		}
	}
	return recreateForeignKeys(ctx, tx, source, target)
}

// retargetSequences gives each serial column of the cloned table its own
// sequence in the target schema instead of sharing the template's.
func retargetSequences(ctx context.Context, tx pgx.Tx, source, target, table string) error {
	rows, err := tx.Query(ctx, `
		SELECT a.attname
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
		  AND pg_get_serial_sequence(quote_ident($1) || '.' || quote_ident($2), a.attname) IS NOT NULL`,
		source, table,
	)
	if err != nil {
		return fmt.Errorf("failed to find serial columns of %s: %w", table, err)
	}
	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan serial column: %w", err)
		}
		columns = append(columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range columns {
		seqName := fmt.Sprintf("%s_%s_seq", table, col)
		qualifiedSeq := pgx.Identifier{target, seqName}.Sanitize()
		qualifiedTable := pgx.Identifier{target, table}.Sanitize()

		if _, err := tx.Exec(ctx, "CREATE SEQUENCE "+qualifiedSeq); err != nil {
			return fmt.Errorf("failed to create sequence for %s.%s: %w", table, col, err)
		}
		alterDefault := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT nextval('%s')",
			qualifiedTable, pgx.Identifier{col}.Sanitize(), qualifiedSeq)
		if _, err := tx.Exec(ctx, alterDefault); err != nil {
			return fmt.Errorf("failed to retarget default of %s.%s: %w", table, col, err)
		}
		alterOwned := fmt.Sprintf("ALTER SEQUENCE %s OWNED BY %s.%s",
			qualifiedSeq, qualifiedTable, pgx.Identifier{col}.Sanitize())
		if _, err := tx.Exec(ctx, alterOwned); err != nil {
			return fmt.Errorf("failed to set sequence ownership for %s.%s: %w", table, col, err)
		}
	}
	return nil
}

// recreateForeignKeys copies the template's foreign keys into the target
// schema, rewriting schema qualifiers so the constraints reference target
// tables.
func recreateForeignKeys(ctx context.Context, tx pgx.Tx, source, target string) error {
	rows, err := tx.Query(ctx, `
		SELECT c.relname, con.conname, pg_get_constraintdef(con.oid)
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND con.contype = 'f'`,
		source,
	)
	if err != nil {
		return fmt.Errorf("failed to query foreign keys: %w", err)
	}

	type fk struct {
		table, name, def string
	}
	var fks []fk
	for rows.Next() {
		var f fk
		if err := rows.Scan(&f.table, &f.name, &f.def); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan foreign key: %w", err)
		}
		if strings.Contains(f.table, snapshotMarker) {
			continue
		}
		fks = append(fks, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	sourceQualifier := pgx.Identifier{source}.Sanitize() + "."
	targetQualifier := pgx.Identifier{target}.Sanitize() + "."
	for _, f := range fks {
		// Constraint definitions reference the source schema both quoted
		// and bare depending on the name; normalize both spellings.
		def := strings.ReplaceAll(f.def, sourceQualifier, targetQualifier)
		def = strings.ReplaceAll(def, source+".", target+".")
		stmt := fmt.Sprintf("ALTER TABLE %s.%s ADD CONSTRAINT %s %s",
			pgx.Identifier{target}.Sanitize(), pgx.Identifier{f.table}.Sanitize(),
			pgx.Identifier{f.name}.Sanitize(), def)
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to recreate foreign key %s on %s: %w", f.name, f.table, err)
		}
	}
	return nil
}

// cloneData copies rows table by table in foreign-key dependency order, so
// the copy succeeds even though the target's constraints are live.
func cloneData(ctx context.Context, tx pgx.Tx, source, target string, tables []string) error {
	ordered, err := topoOrder(ctx, tx, source, tables)
	if err != nil {
		return err
	}
	for _, table := range ordered {
		stmt := fmt.Sprintf("INSERT INTO %s.%s SELECT * FROM %s.%s",
			pgx.Identifier{target}.Sanitize(), pgx.Identifier{table}.Sanitize(),
			pgx.Identifier{source}.Sanitize(), pgx.Identifier{table}.Sanitize())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to copy data for %s: %w", table, err)
		}
	}
	return nil
}

// topoOrder sorts tables so referenced tables come before referencing ones
// (Kahn's algorithm). Tables on dependency cycles are appended at the end;
// copying them may still succeed when the cyclic rows are absent.
func topoOrder(ctx context.Context, tx pgx.Tx, schema string, tables []string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT tc.table_name, ccu.table_name AS referenced
		FROM information_schema.table_constraints tc
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.constraint_schema
		WHERE tc.table_schema = $1 AND tc.constraint_type = 'FOREIGN KEY'`,
		schema,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query table dependencies: %w", err)
	}
	defer rows.Close()

	inSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		inSet[t] = true
	}

	indegree := make(map[string]int)
	dependents := make(map[string][]string)
	for rows.Next() {
		var table, referenced string
		if err := rows.Scan(&table, &referenced); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if table == referenced || !inSet[table] || !inSet[referenced] {
			continue
		}
		dependents[referenced] = append(dependents[referenced], table)
		indegree[table]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var queue []string
	for _, t := range tables {
		if indegree[t] == 0 {
			queue = append(queue, t)
		}
	}

	ordered := make([]string, 0, len(tables))
	seen := make(map[string]bool, len(tables))
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		ordered = append(ordered, t)
		seen[t] = true
		for _, d := range dependents[t] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	// Cycle remainder, if any.
	for _, t := range tables {
		if !seen[t] {
			ordered = append(ordered, t)
		}
	}
	return ordered, nil
}

// rebaseSequences advances every serial sequence in the cloned schema past
// the copied data, so the first tenant insert does not collide.
func rebaseSequences(ctx context.Context, tx pgx.Tx, schema string, tables []string) error {
	for _, table := range tables {
		qualified := pgx.Identifier{schema, table}.Sanitize()
		rows, err := tx.Query(ctx, `
			SELECT a.attname, pg_get_serial_sequence(quote_ident($1) || '.' || quote_ident($2), a.attname)
			FROM pg_attribute a
			JOIN pg_class c ON c.oid = a.attrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
			  AND pg_get_serial_sequence(quote_ident($1) || '.' || quote_ident($2), a.attname) IS NOT NULL`,
			schema, table,
		)
		if err != nil {
			return fmt.Errorf("failed to find sequences of %s: %w", table, err)
		}
		type colSeq struct{ col, seq string }
		var pairs []colSeq
		for rows.Next() {
			var p colSeq
			if err := rows.Scan(&p.col, &p.seq); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan sequence: %w", err)
			}
			pairs = append(pairs, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, p := range pairs {
			stmt := fmt.Sprintf("SELECT setval('%s', COALESCE((SELECT MAX(%s) FROM %s), 0) + 1, false)",
				p.seq, pgx.Identifier{p.col}.Sanitize(), qualified)
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to rebase sequence %s: %w", p.seq, err)
			}
		}
	}
	return nil
}
