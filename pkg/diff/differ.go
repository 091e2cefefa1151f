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
package diff

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/teradata-labs/crucible/pkg/observability"
)

// snapshotMarker separates a table name from its snapshot suffix. Tables
// containing the marker are themselves snapshots and never diffed.
const snapshotMarker = "_snapshot_"

// Differ snapshots and diffs the tables of the schema bound to a
// transaction. Rows are matched on their id column; tables without one are
// skipped.
type Differ struct {
	tx     pgx.Tx
	tracer observability.Tracer

	// Columns never compared when detecting updates, typically volatile
	// bookkeeping like updated_at.
	excludeColumns map[string]bool

	tables []tableInfo
}

type tableInfo struct {
	name    string
	columns []string
	hasID   bool
}

// NewDiffer discovers the diffable tables visible on the transaction's
// search path. The transaction must already be bound to the tenant schema.
func NewDiffer(ctx context.Context, tx pgx.Tx, tracer observability.Tracer, excludeColumns []string) (*Differ, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	excluded := make(map[string]bool, len(excludeColumns))
	for _, c := range excludeColumns {
		excluded[c] = true
	}

	d := &Differ{tx: tx, tracer: tracer, excludeColumns: excluded}
	if err := d.discoverTables(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Tables returns the names of the tables under diff.
func (d *Differ) Tables() []string {
	names := make([]string, 0, len(d.tables))
	for _, t := range d.tables {
		names = append(names, t.name)
	}
	return names
}

func (d *Differ) discoverTables(ctx context.Context) error {
	rows, err := d.tx.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`,
	)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		if strings.Contains(name, snapshotMarker) {
			continue
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		columns, err := d.tableColumns(ctx, name)
		if err != nil {
			return err
		}
		info := tableInfo{name: name, columns: columns}
		for _, c := range columns {
			if c == "id" {
				info.hasID = true
				break
			}
		}
		d.tables = append(d.tables, info)
	}
	return nil
}

func (d *Differ) tableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := d.tx.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

// Snapshot materializes every table into <table>_snapshot_<suffix>. The
// CREATE TABLE IF NOT EXISTS makes re-snapshotting with the same suffix a
// no-op, so a suffix names a stable point in time.
func (d *Differ) Snapshot(ctx context.Context, suffix string) error {
	ctx, span := d.tracer.StartSpan(ctx, "diff.snapshot")
	defer d.tracer.EndSpan(span)
	span.SetAttribute("suffix", suffix)
	span.SetAttribute("tables", len(d.tables))

	for _, t := range d.tables {
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s AS SELECT * FROM %s",
			pgx.Identifier{snapshotName(t.name, suffix)}.Sanitize(),
			pgx.Identifier{t.name}.Sanitize())
		if _, err := d.tx.Exec(ctx, stmt); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to snapshot %s: %w", t.name, err)
		}
	}
	return nil
}

// Archive drops the snapshot tables for a suffix. Missing snapshots are
// ignored.
func (d *Differ) Archive(ctx context.Context, suffix string) error {
	ctx, span := d.tracer.StartSpan(ctx, "diff.archive")
	defer d.tracer.EndSpan(span)
	span.SetAttribute("suffix", suffix)

	for _, t := range d.tables {
		stmt := "DROP TABLE IF EXISTS " + pgx.Identifier{snapshotName(t.name, suffix)}.Sanitize()
		if _, err := d.tx.Exec(ctx, stmt); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to archive snapshot of %s: %w", t.name, err)
		}
	}
	return nil
}

// Diff computes the full delta between two snapshot suffixes.
func (d *Differ) Diff(ctx context.Context, beforeSuffix, afterSuffix string) (*Diff, error) {
	ctx, span := d.tracer.StartSpan(ctx, "diff.compute")
	defer d.tracer.EndSpan(span)
	span.SetAttribute("before", beforeSuffix)
	span.SetAttribute("after", afterSuffix)

	result := &Diff{}
	for _, t := range d.tables {
		if !t.hasID {
			continue
		}
		before := snapshotName(t.name, beforeSuffix)
		after := snapshotName(t.name, afterSuffix)

		inserts, err := d.rowsOnlyIn(ctx, t, after, before)
		if err != nil {
			return nil, err
		}
		deletes, err := d.rowsOnlyIn(ctx, t, before, after)
		if err != nil {
			return nil, err
		}
		updates, err := d.changedRows(ctx, t, before, after)
		if err != nil {
			return nil, err
		}

		result.Inserts = append(result.Inserts, inserts...)
		result.Deletes = append(result.Deletes, deletes...)
		result.Updates = append(result.Updates, updates...)
	}

	span.SetAttribute("inserts", len(result.Inserts))
	span.SetAttribute("updates", len(result.Updates))
	span.SetAttribute("deletes", len(result.Deletes))
	return result, nil
}

// rowsOnlyIn returns the rows of left whose id has no match in right.
func (d *Differ) rowsOnlyIn(ctx context.Context, t tableInfo, left, right string) ([]Row, error) {
	query := fmt.Sprintf(`
		SELECT a.* FROM %s a
		LEFT JOIN %s b ON a.id = b.id
		WHERE b.id IS NULL
		ORDER BY a.id`,
		pgx.Identifier{left}.Sanitize(), pgx.Identifier{right}.Sanitize())

	rows, err := d.tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []Row
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row of %s: %w", t.name, err)
		}
		row := Row{TableKey: t.name}
		for i, fd := range fields {
			row[string(fd.Name)] = NormalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// changedRows returns before/after pairs for rows present in both snapshots
// whose compared columns differ. IS DISTINCT FROM makes NULL transitions
// count as changes.
func (d *Differ) changedRows(ctx context.Context, t tableInfo, before, after string) ([]Update, error) {
	var compared []string
	for _, c := range t.columns {
		if c == "id" || d.excludeColumns[c] {
			continue
		}
		compared = append(compared, c)
	}
	if len(compared) == 0 {
		return nil, nil
	}

	conditions := make([]string, len(compared))
	beforeCols := make([]string, len(t.columns))
	afterCols := make([]string, len(t.columns))
	for i, c := range compared {
		ident := pgx.Identifier{c}.Sanitize()
		conditions[i] = fmt.Sprintf("a.%s IS DISTINCT FROM b.%s", ident, ident)
	}
	for i, c := range t.columns {
		ident := pgx.Identifier{c}.Sanitize()
		beforeCols[i] = fmt.Sprintf("b.%s AS %s", ident, pgx.Identifier{"before_" + c}.Sanitize())
		afterCols[i] = fmt.Sprintf("a.%s AS %s", ident, pgx.Identifier{"after_" + c}.Sanitize())
	}

	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM %s a
		JOIN %s b ON a.id = b.id
		WHERE %s
		ORDER BY a.id`,
		strings.Join(beforeCols, ", "), strings.Join(afterCols, ", "),
		pgx.Identifier{after}.Sanitize(), pgx.Identifier{before}.Sanitize(),
		strings.Join(conditions, " OR "))

	rows, err := d.tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to diff updates of %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []Update
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read update row of %s: %w", t.name, err)
		}
		n := len(t.columns)
		upd := Update{
			Table:  t.name,
			Before: Row{TableKey: t.name},
			After:  Row{TableKey: t.name},
		}
		for i, c := range t.columns {
			upd.Before[c] = NormalizeValue(values[i])
			upd.After[c] = NormalizeValue(values[n+i])
		}
		out = append(out, upd)
	}
	return out, rows.Err()
}

func snapshotName(table, suffix string) string {
	return table + snapshotMarker + suffix
}
