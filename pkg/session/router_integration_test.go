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

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
)

func testRouter(t *testing.T) (*Router, *pgxpool.Pool) {
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
	return NewRouter(pool, envs, nil), pool
}

// createTenantSchema creates a throwaway schema with one table and registers
// cleanup.
func createTenantSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	ctx := context.Background()
	name := fmt.Sprintf("tenant_test_%d", time.Now().UnixNano())

	_, err := pool.Exec(ctx, fmt.Sprintf(
		"CREATE SCHEMA %s; CREATE TABLE %s.items (id SERIAL PRIMARY KEY, label TEXT)", name, name))
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+name+" CASCADE") //nolint:errcheck
	})
	return name
}

func TestWithTenantSession_BindsSchema(t *testing.T) {
	router, pool := testRouter(t)
	ctx := context.Background()

	a := createTenantSchema(t, pool)
	b := createTenantSchema(t, pool)

	require.NoError(t, router.WithTenantSession(ctx, a, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO items (label) VALUES ('from-a')")
		return err
	}))
	require.NoError(t, router.WithTenantSession(ctx, b, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO items (label) VALUES ('from-b')")
		return err
	}))

	// Each schema saw only its own write.
	var label string
	require.NoError(t, router.WithTenantSession(ctx, a, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, "SELECT label FROM items").Scan(&label)
	}))
	assert.Equal(t, "from-a", label)

	require.NoError(t, router.WithTenantSession(ctx, b, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, "SELECT label FROM items").Scan(&label)
	}))
	assert.Equal(t, "from-b", label)
}

func TestWithTenantSession_BindingDoesNotLeak(t *testing.T) {
	router, pool := testRouter(t)
	ctx := context.Background()

	schema := createTenantSchema(t, pool)
	require.NoError(t, router.WithTenantSession(ctx, schema, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, "SELECT current_schema()").Scan(&current); err != nil {
			return err
		}
		assert.Equal(t, schema, current)
		return nil
	}))

	// Outside the transaction the pooled connection must be back on the
	// default search path.
	var current string
	require.NoError(t, pool.QueryRow(ctx, "SELECT current_schema()").Scan(&current))
	assert.NotEqual(t, schema, current)
}

func TestWithTenantSession_RollsBackOnError(t *testing.T) {
	router, pool := testRouter(t)
	ctx := context.Background()

	schema := createTenantSchema(t, pool)
	boom := errors.New("boom")

	err := router.WithTenantSession(ctx, schema, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO items (label) VALUES ('doomed')"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, router.WithTenantSession(ctx, schema, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, "SELECT COUNT(*) FROM items").Scan(&count)
	}))
	assert.Zero(t, count)
}

func TestResolveSchema_EnvironmentStates(t *testing.T) {
	router, pool := testRouter(t)
	ctx := context.Background()
	envs := meta.NewEnvironmentStore(pool, nil)

	ready := &meta.RuntimeEnvironment{
		ID:         uuid.New(),
		SchemaName: fmt.Sprintf("state_test_%d", time.Now().UnixNano()),
		Status:     meta.EnvStatusReady,
	}
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, envs.InsertTx(ctx, tx, ready))
	require.NoError(t, tx.Commit(ctx))

	schema, err := router.ResolveSchema(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, ready.SchemaName, schema)

	require.NoError(t, envs.UpdateStatus(ctx, ready.ID, meta.EnvStatusExpired))
	_, err = router.ResolveSchema(ctx, ready.ID)
	assert.Equal(t, fault.StateError, fault.KindOf(err))

	_, err = router.ResolveSchema(ctx, uuid.New())
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}
