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

//go:build integration

package isolation

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
	"github.com/teradata-labs/crucible/pkg/session"
)

func testEngine(t *testing.T) (*Engine, *pgxpool.Pool, *meta.EnvironmentStore) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set; skipping PostgreSQL integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "failed to connect to PostgreSQL")
	t.Cleanup(pool.Close)

	migrator, err := meta.NewMigrator(pool, observability.NewNoOpTracer())
	require.NoError(t, err)
	require.NoError(t, migrator.MigrateUp(ctx))

	envs := meta.NewEnvironmentStore(pool, nil)
	templates := meta.NewTemplateStore(pool, nil)
	tests := meta.NewTestStore(pool, nil)
	router := session.NewRouter(pool, envs, nil)
	return NewEngine(router, templates, envs, tests, nil), pool, envs
}

// seedTemplateSchema builds a small template: customers and orders with a
// foreign key between them, serial primary keys, and a few seed rows.
func seedTemplateSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	ctx := context.Background()
	name := fmt.Sprintf("tmpl_test_%d", time.Now().UnixNano())

	_, err := pool.Exec(ctx, fmt.Sprintf(`
		CREATE SCHEMA %[1]s;
		CREATE TABLE %[1]s.customers (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL
		);
		CREATE TABLE %[1]s.orders (
			id SERIAL PRIMARY KEY,
			customer_id INT NOT NULL REFERENCES %[1]s.customers(id),
			status TEXT NOT NULL DEFAULT 'open'
		);
		INSERT INTO %[1]s.customers (name) VALUES ('ada'), ('grace');
		INSERT INTO %[1]s.orders (customer_id, status) VALUES (1, 'open'), (2, 'shipped');
	`, name))
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+name+" CASCADE") //nolint:errcheck
	})
	return name
}

func dropEnvSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE") //nolint:errcheck
	})
}

func TestCreateEnvironment_ClonesTemplate(t *testing.T) {
	engine, pool, _ := testEngine(t)
	ctx := context.Background()
	source := seedTemplateSchema(t, pool)

	env, err := engine.CreateEnvironment(ctx, source, nil, CreateOptions{CreatedBy: "tester"})
	require.NoError(t, err)
	dropEnvSchema(t, pool, env.SchemaName)

	assert.Equal(t, meta.EnvStatusReady, env.Status)
	require.NotNil(t, env.ExpiresAt)

	var customers, orders int
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s.customers", env.SchemaName)).Scan(&customers))
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s.orders", env.SchemaName)).Scan(&orders))
	assert.Equal(t, 2, customers)
	assert.Equal(t, 2, orders)

	// Foreign key came along with the clone.
	var fkCount int
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND con.contype = 'f'`, env.SchemaName).Scan(&fkCount))
	assert.Equal(t, 1, fkCount)
}

func TestCreateEnvironment_SequencesRebased(t *testing.T) {
	engine, pool, _ := testEngine(t)
	ctx := context.Background()
	source := seedTemplateSchema(t, pool)

	env, err := engine.CreateEnvironment(ctx, source, nil, CreateOptions{})
	require.NoError(t, err)
	dropEnvSchema(t, pool, env.SchemaName)

	// A tenant insert gets an id past the copied rows.
	var id int
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf("INSERT INTO %s.customers (name) VALUES ('lin') RETURNING id", env.SchemaName)).Scan(&id))
	assert.Equal(t, 3, id)

	// And the template's own sequence is untouched.
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf("INSERT INTO %s.customers (name) VALUES ('mary') RETURNING id", source)).Scan(&id))
	assert.Equal(t, 3, id)
}

func TestCreateEnvironment_WritesStayIsolated(t *testing.T) {
	engine, pool, _ := testEngine(t)
	ctx := context.Background()
	source := seedTemplateSchema(t, pool)

	env, err := engine.CreateEnvironment(ctx, source, nil, CreateOptions{})
	require.NoError(t, err)
	dropEnvSchema(t, pool, env.SchemaName)

	_, err = pool.Exec(ctx,
		fmt.Sprintf("UPDATE %s.orders SET status = 'cancelled'", env.SchemaName))
	require.NoError(t, err)

	var templateCancelled int
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s.orders WHERE status = 'cancelled'", source)).Scan(&templateCancelled))
	assert.Zero(t, templateCancelled)
}

func TestCreateEnvironment_EmptySourceIsAtomic(t *testing.T) {
	engine, pool, _ := testEngine(t)
	ctx := context.Background()

	// A schema with no tables cannot seed an environment.
	empty := fmt.Sprintf("tmpl_empty_%d", time.Now().UnixNano())
	_, err := pool.Exec(ctx, "CREATE SCHEMA "+empty)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+empty+" CASCADE") //nolint:errcheck
	})

	_, err = engine.CreateEnvironment(ctx, empty, nil, CreateOptions{})
	require.Error(t, err)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
	assert.Contains(t, err.Error(), "template_schema_not_registered")

	// The failed attempt left neither a tenant schema nor a catalog row.
	var strayschemas int
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM meta.runtime_environments e
		WHERE NOT EXISTS (
			SELECT 1 FROM information_schema.schemata s WHERE s.schema_name = e.schema_name
		) AND e.status = 'ready' AND e.created_at > NOW() - INTERVAL '10 seconds'`).Scan(&strayschemas))
	assert.Zero(t, strayschemas)
}

func TestDeleteEnvironment_DropsSchemaAndIsIdempotent(t *testing.T) {
	engine, pool, _ := testEngine(t)
	ctx := context.Background()
	source := seedTemplateSchema(t, pool)

	env, err := engine.CreateEnvironment(ctx, source, nil, CreateOptions{})
	require.NoError(t, err)
	dropEnvSchema(t, pool, env.SchemaName)

	require.NoError(t, engine.DeleteEnvironment(ctx, env.ID))

	var exists bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		env.SchemaName).Scan(&exists))
	assert.False(t, exists)

	var status string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status FROM meta.runtime_environments WHERE id = $1", env.ID).Scan(&status))
	assert.Equal(t, "deleted", status)

	// Second delete is a no-op.
	require.NoError(t, engine.DeleteEnvironment(ctx, env.ID))
}

func TestSweeper_MarksExpiredWithoutDropping(t *testing.T) {
	engine, pool, envs := testEngine(t)
	ctx := context.Background()
	source := seedTemplateSchema(t, pool)

	// One environment already past its TTL, one still live.
	expired, err := engine.CreateEnvironment(ctx, source, nil, CreateOptions{TTL: time.Nanosecond})
	require.NoError(t, err)
	dropEnvSchema(t, pool, expired.SchemaName)

	live, err := engine.CreateEnvironment(ctx, source, nil, CreateOptions{TTL: time.Hour})
	require.NoError(t, err)
	dropEnvSchema(t, pool, live.SchemaName)

	sweeper := NewSweeper(engine, envs, DefaultSweepSchedule)
	marked, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, marked, 1)

	var status string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status FROM meta.runtime_environments WHERE id = $1", expired.ID).Scan(&status))
	assert.Equal(t, "expired", status)

	// Expiry is advisory; the tenant schema and its data survive the sweep.
	var exists bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		expired.SchemaName).Scan(&exists))
	assert.True(t, exists)

	var rows int
	require.NoError(t, pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s.orders", expired.SchemaName)).Scan(&rows))
	assert.Equal(t, 2, rows)

	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status FROM meta.runtime_environments WHERE id = $1", live.ID).Scan(&status))
	assert.Equal(t, "ready", status)

	// Only an explicit delete reclaims the schema.
	require.NoError(t, engine.DeleteEnvironment(ctx, expired.ID))
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		expired.SchemaName).Scan(&exists))
	assert.False(t, exists)
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status FROM meta.runtime_environments WHERE id = $1", expired.ID).Scan(&status))
	assert.Equal(t, "deleted", status)
}
