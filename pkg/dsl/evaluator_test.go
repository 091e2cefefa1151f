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
package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/crucible/pkg/diff"
)

func row(table string, fields map[string]any) diff.Row {
	r := diff.Row{diff.TableKey: table}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func compileSpec(t *testing.T, doc string) *Spec {
	t.Helper()
	spec, err := testCompiler(t).Compile([]byte(doc))
	require.NoError(t, err)
	return spec
}

func TestEvaluate_AddedPasses(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "added", "entity": "orders", "where": {"status": "open"}}
		]
	}`)
	d := &diff.Diff{
		Inserts: []diff.Row{
			row("orders", map[string]any{"id": float64(1), "status": "open"}),
			row("invoices", map[string]any{"id": float64(9)}),
		},
	}

	result := Evaluate(spec, d)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Failures)
	assert.Equal(t, Score{Passed: 1, Total: 1, Percent: 100.0}, result.Score)
}

func TestEvaluate_AddedNoMatchFailureMessage(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "added", "entity": "orders"}
		]
	}`)

	result := Evaluate(spec, &diff.Diff{})
	assert.False(t, result.Passed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "assertion#1 orders expected at least 1 match but got 0", result.Failures[0])
	assert.Equal(t, Score{Passed: 0, Total: 1, Percent: 0.0}, result.Score)
}

func TestEvaluate_ExactCountMismatchMessage(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "added", "entity": "orders", "expected_count": 2}
		]
	}`)
	d := &diff.Diff{Inserts: []diff.Row{row("orders", map[string]any{"id": float64(1)})}}

	result := Evaluate(spec, d)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "assertion#1 orders expected count 2 but got 1", result.Failures[0])
}

func TestEvaluate_RangeCount(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "removed", "entity": "sessions", "expected_count": {"min": 1, "max": 2}}
		]
	}`)
	d := &diff.Diff{Deletes: []diff.Row{
		row("sessions", map[string]any{"id": float64(1)}),
		row("sessions", map[string]any{"id": float64(2)}),
	}}
	assert.True(t, Evaluate(spec, d).Passed)

	d.Deletes = append(d.Deletes, row("sessions", map[string]any{"id": float64(3)}))
	result := Evaluate(spec, d)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "assertion#1 sessions expected count {min:1 max:2} but got 3", result.Failures[0])
}

func TestEvaluate_ChangedWithFromTo(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "changed", "entity": "orders",
			 "expected_changes": {"status": {"from": "open", "to": "shipped"}}}
		]
	}`)
	d := &diff.Diff{Updates: []diff.Update{{
		Table:  "orders",
		Before: row("orders", map[string]any{"id": float64(1), "status": "open"}),
		After:  row("orders", map[string]any{"id": float64(1), "status": "shipped"}),
	}}}

	result := Evaluate(spec, d)
	assert.True(t, result.Passed, "failures: %v", result.Failures)
}

func TestEvaluate_ChangedWhereMatchesEitherSide(t *testing.T) {
	// The where clause targets the before image only; the update must still
	// be considered.
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "changed", "entity": "orders",
			 "where": {"status": "open"},
			 "expected_changes": {"status": "shipped"}}
		]
	}`)
	d := &diff.Diff{Updates: []diff.Update{{
		Table:  "orders",
		Before: row("orders", map[string]any{"id": float64(1), "status": "open"}),
		After:  row("orders", map[string]any{"id": float64(1), "status": "shipped"}),
	}}}

	assert.True(t, Evaluate(spec, d).Passed)
}

func TestEvaluate_StrictRejectsUnexpectedChanges(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "changed", "entity": "orders",
			 "expected_changes": {"status": "shipped"}}
		]
	}`)
	d := &diff.Diff{Updates: []diff.Update{{
		Table:  "orders",
		Before: row("orders", map[string]any{"id": float64(1), "status": "open", "total": float64(10)}),
		After:  row("orders", map[string]any{"id": float64(1), "status": "shipped", "total": float64(12)}),
	}}}

	result := Evaluate(spec, d)
	assert.False(t, result.Passed)
	// The strict violation and the resulting zero-match count both report.
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "assertion#1 orders changed fields [status total] not subset of expected [status]", result.Failures[0])
	assert.Equal(t, "assertion#1 orders expected at least 1 match but got 0", result.Failures[1])
	// One assertion failed twice; the score counts it once.
	assert.Equal(t, Score{Passed: 0, Total: 1, Percent: 0.0}, result.Score)
}

func TestEvaluate_NonStrictAllowsExtraChanges(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"strict": false,
		"assertions": [
			{"diff_type": "changed", "entity": "orders",
			 "expected_changes": {"status": "shipped"}}
		]
	}`)
	d := &diff.Diff{Updates: []diff.Update{{
		Table:  "orders",
		Before: row("orders", map[string]any{"id": float64(1), "status": "open", "total": float64(10)}),
		After:  row("orders", map[string]any{"id": float64(1), "status": "shipped", "total": float64(12)}),
	}}}

	assert.True(t, Evaluate(spec, d).Passed)
}

func TestEvaluate_IgnoredFieldsDoNotCountAsChanges(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"ignore_fields": {"global": ["updated_at"], "orders": ["audit_note"]},
		"assertions": [
			{"diff_type": "changed", "entity": "orders",
			 "ignore": ["etag"],
			 "expected_changes": {"status": "shipped"}}
		]
	}`)
	d := &diff.Diff{Updates: []diff.Update{{
		Table: "orders",
		Before: row("orders", map[string]any{
			"id": float64(1), "status": "open",
			"updated_at": "t1", "audit_note": "a", "etag": "e1",
		}),
		After: row("orders", map[string]any{
			"id": float64(1), "status": "shipped",
			"updated_at": "t2", "audit_note": "b", "etag": "e2",
		}),
	}}}

	assert.True(t, Evaluate(spec, d).Passed)
}

func TestEvaluate_UnchangedFailsOnAnyTouch(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "unchanged", "entity": "users"}
		]
	}`)
	d := &diff.Diff{
		Inserts: []diff.Row{row("users", map[string]any{"id": float64(2)})},
		Updates: []diff.Update{{
			Table:  "users",
			Before: row("users", map[string]any{"id": float64(1), "name": "a"}),
			After:  row("users", map[string]any{"id": float64(1), "name": "b"}),
		}},
	}

	result := Evaluate(spec, d)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "assertion#1 users expected no changes but found 2", result.Failures[0])
}

func TestEvaluate_UnchangedWithCountBudget(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "unchanged", "entity": "users", "expected_count": {"max": 1}}
		]
	}`)
	d := &diff.Diff{
		Inserts: []diff.Row{
			row("users", map[string]any{"id": float64(2)}),
			row("users", map[string]any{"id": float64(3)}),
		},
	}

	result := Evaluate(spec, d)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "assertion#1 users expected count {max:1} but got 2 (unchanged)", result.Failures[0])
}

func TestEvaluate_UnknownDiffType(t *testing.T) {
	spec := &Spec{
		Version:    Version,
		Assertions: []Assertion{{DiffType: "mutated", Entity: "orders"}},
	}

	result := Evaluate(spec, &diff.Diff{})
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "assertion#1 has unknown diff_type: mutated", result.Failures[0])
}

func TestEvaluate_EmptySpecScoresFull(t *testing.T) {
	result := Evaluate(&Spec{Version: Version}, &diff.Diff{})
	assert.True(t, result.Passed)
	assert.NotNil(t, result.Failures)
	assert.Empty(t, result.Failures)
	assert.Equal(t, Score{Passed: 0, Total: 0, Percent: 100.0}, result.Score)
}

func TestEvaluate_ScoreAcrossMixedAssertions(t *testing.T) {
	spec := compileSpec(t, `{
		"version": "0.1",
		"assertions": [
			{"diff_type": "added", "entity": "orders"},
			{"diff_type": "removed", "entity": "orders"},
			{"diff_type": "unchanged", "entity": "users"},
			{"diff_type": "added", "entity": "invoices"}
		]
	}`)
	d := &diff.Diff{
		Inserts: []diff.Row{row("orders", map[string]any{"id": float64(1)})},
	}

	result := Evaluate(spec, d)
	assert.False(t, result.Passed)
	// removed and invoices-added fail; added and unchanged pass.
	assert.Len(t, result.Failures, 2)
	assert.Equal(t, Score{Passed: 2, Total: 4, Percent: 50.0}, result.Score)
}
