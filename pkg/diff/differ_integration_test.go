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

package diff

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set; skipping PostgreSQL integration test")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err, "failed to connect to PostgreSQL")
	t.Cleanup(pool.Close)
	return pool
}

// seedDiffSchema creates a schema with an orders table, an audit table
// without an id column, and two seed rows.
func seedDiffSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	ctx := context.Background()
	name := fmt.Sprintf("diff_test_%d", time.Now().UnixNano())

	_, err := pool.Exec(ctx, fmt.Sprintf(`
		CREATE SCHEMA %[1]s;
		CREATE TABLE %[1]s.orders (
			id SERIAL PRIMARY KEY,
			status TEXT NOT NULL,
			total NUMERIC(10,2) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE %[1]s.audit_log (
			event TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		INSERT INTO %[1]s.orders (status, total) VALUES ('open', 10.00), ('open', 25.50);
	`, name))
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+name+" CASCADE") //nolint:errcheck
	})
	return name
}

// inTenantTx runs fn in a committed transaction bound to the schema.
func inTenantTx(t *testing.T, pool *pgxpool.Pool, schema string, fn func(tx pgx.Tx) error) {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, "SELECT set_config('search_path', $1, true)", schema)
	require.NoError(t, err)
	require.NoError(t, fn(tx))
	require.NoError(t, tx.Commit(ctx))
}

func TestDiffer_SnapshotAndDiff(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	schema := seedDiffSchema(t, pool)

	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, []string{"updated_at"})
		require.NoError(t, err)
		assert.Equal(t, []string{"audit_log", "orders"}, d.Tables())
		return d.Snapshot(ctx, "before_0001")
	})

	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "UPDATE orders SET status = 'shipped', updated_at = NOW() WHERE id = 1"); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "DELETE FROM orders WHERE id = 2"); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "INSERT INTO orders (status, total) VALUES ('open', 99.99)")
		return err
	})

	var result *Diff
	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, []string{"updated_at"})
		require.NoError(t, err)
		if err := d.Snapshot(ctx, "after_0001"); err != nil {
			return err
		}
		result, err = d.Diff(ctx, "before_0001", "after_0001")
		return err
	})

	require.Len(t, result.Inserts, 1)
	assert.Equal(t, "orders", result.Inserts[0][TableKey])
	assert.EqualValues(t, 3, result.Inserts[0]["id"])
	assert.Equal(t, "open", result.Inserts[0]["status"])
	assert.Equal(t, 99.99, result.Inserts[0]["total"])

	require.Len(t, result.Deletes, 1)
	assert.EqualValues(t, 2, result.Deletes[0]["id"])

	require.Len(t, result.Updates, 1)
	assert.Equal(t, "orders", result.Updates[0].Table)
	assert.Equal(t, "open", result.Updates[0].Before["status"])
	assert.Equal(t, "shipped", result.Updates[0].After["status"])
}

func TestDiffer_ExcludedColumnsDoNotTriggerUpdates(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	schema := seedDiffSchema(t, pool)

	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, []string{"updated_at"})
		require.NoError(t, err)
		return d.Snapshot(ctx, "b")
	})

	// Only the excluded column moves.
	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "UPDATE orders SET updated_at = NOW() + INTERVAL '1 hour'")
		return err
	})

	var result *Diff
	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, []string{"updated_at"})
		require.NoError(t, err)
		if err := d.Snapshot(ctx, "a"); err != nil {
			return err
		}
		result, err = d.Diff(ctx, "b", "a")
		return err
	})

	assert.Empty(t, result.Inserts)
	assert.Empty(t, result.Updates)
	assert.Empty(t, result.Deletes)
}

func TestDiffer_ReSnapshotSameSuffixIsStable(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	schema := seedDiffSchema(t, pool)

	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, nil)
		require.NoError(t, err)
		return d.Snapshot(ctx, "pin")
	})

	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "UPDATE orders SET status = 'shipped' WHERE id = 1")
		return err
	})

	// The second snapshot with the same suffix keeps the original contents.
	var result *Diff
	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, []string{"updated_at"})
		require.NoError(t, err)
		if err := d.Snapshot(ctx, "pin"); err != nil {
			return err
		}
		if err := d.Snapshot(ctx, "now"); err != nil {
			return err
		}
		result, err = d.Diff(ctx, "pin", "now")
		return err
	})

	require.Len(t, result.Updates, 1)
	assert.Equal(t, "open", result.Updates[0].Before["status"])
	assert.Equal(t, "shipped", result.Updates[0].After["status"])
}

func TestDiffer_TablesWithoutIDAreSkipped(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	schema := seedDiffSchema(t, pool)

	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, nil)
		require.NoError(t, err)
		return d.Snapshot(ctx, "b")
	})

	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO audit_log (event) VALUES ('noise')")
		return err
	})

	var result *Diff
	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, nil)
		require.NoError(t, err)
		if err := d.Snapshot(ctx, "a"); err != nil {
			return err
		}
		result, err = d.Diff(ctx, "b", "a")
		return err
	})

	assert.Empty(t, result.Inserts)
	assert.Empty(t, result.Updates)
	assert.Empty(t, result.Deletes)
}

func TestDiffer_ArchiveDropsSnapshots(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	schema := seedDiffSchema(t, pool)

	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, nil)
		require.NoError(t, err)
		if err := d.Snapshot(ctx, "gone"); err != nil {
			return err
		}
		return d.Archive(ctx, "gone")
	})

	var count int
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = $1 AND table_name LIKE '%_snapshot_gone'`, schema).Scan(&count))
	assert.Zero(t, count)

	// Archiving again is harmless.
	inTenantTx(t, pool, schema, func(tx pgx.Tx) error {
		d, err := NewDiffer(ctx, tx, nil, nil)
		require.NoError(t, err)
		return d.Archive(ctx, "gone")
	})
}
