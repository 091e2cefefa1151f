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
	"github.com/teradata-labs/crucible/pkg/fault"
)

func testCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler()
	require.NoError(t, err)
	return c
}

func TestCompile_MinimalDocument(t *testing.T) {
	c := testCompiler(t)

	spec, err := c.Compile([]byte(`{
		"version": "0.1",
		"assertions": [
			{"diff_type": "added", "entity": "orders"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, Version, spec.Version)
	assert.True(t, spec.StrictMode())
	require.Len(t, spec.Assertions, 1)
	assert.Equal(t, KindAdded, spec.Assertions[0].DiffType)
	assert.Equal(t, "orders", spec.Assertions[0].Entity)
	assert.Nil(t, spec.Assertions[0].ExpectedCount)
}

func TestCompile_EmptyAssertionsIsVacuouslyTrue(t *testing.T) {
	c := testCompiler(t)

	spec, err := c.Compile([]byte(`{"version": "0.1", "assertions": []}`))
	require.NoError(t, err)
	assert.Empty(t, spec.Assertions)

	result := Evaluate(spec, &diff.Diff{})
	assert.True(t, result.Passed)
	assert.Empty(t, result.Failures)
	assert.Equal(t, Score{Passed: 0, Total: 0, Percent: 100.0}, result.Score)
}

func TestCompile_ScalarWhereBecomesEq(t *testing.T) {
	c := testCompiler(t)

	spec, err := c.Compile([]byte(`{
		"version": "0.1",
		"assertions": [
			{"diff_type": "added", "entity": "orders", "where": {"status": "open", "total": 42}}
		]
	}`))
	require.NoError(t, err)

	where := spec.Assertions[0].Where
	assert.Equal(t, Predicate{"eq": "open"}, where["status"])
	assert.Equal(t, Predicate{"eq": float64(42)}, where["total"])
}

func TestCompile_ScalarExpectedChangeBecomesToEq(t *testing.T) {
	c := testCompiler(t)

	spec, err := c.Compile([]byte(`{
		"version": "0.1",
		"assertions": [
			{"diff_type": "changed", "entity": "orders", "expected_changes": {"status": "shipped"}}
		]
	}`))
	require.NoError(t, err)

	chg := spec.Assertions[0].ExpectedChanges["status"]
	assert.Nil(t, chg.From)
	assert.Equal(t, Predicate{"eq": "shipped"}, chg.To)
}

func TestCompile_FromToObjectForm(t *testing.T) {
	c := testCompiler(t)

	spec, err := c.Compile([]byte(`{
		"version": "0.1",
		"assertions": [
			{"diff_type": "changed", "entity": "orders",
			 "expected_changes": {"status": {"from": "open", "to": {"in": ["shipped", "closed"]}}}}
		]
	}`))
	require.NoError(t, err)

	chg := spec.Assertions[0].ExpectedChanges["status"]
	assert.Equal(t, Predicate{"eq": "open"}, chg.From)
	assert.Equal(t, Predicate{"in": []any{"shipped", "closed"}}, chg.To)
}

func TestCompile_CountForms(t *testing.T) {
	c := testCompiler(t)

	spec, err := c.Compile([]byte(`{
		"version": "0.1",
		"assertions": [
			{"diff_type": "added", "entity": "a", "expected_count": 3},
			{"diff_type": "added", "entity": "b", "expected_count": {"min": 1, "max": 5}}
		]
	}`))
	require.NoError(t, err)

	exact := spec.Assertions[0].ExpectedCount
	require.NotNil(t, exact)
	require.NotNil(t, exact.Exact)
	assert.Equal(t, 3, *exact.Exact)
	assert.Equal(t, "3", exact.String())

	rng := spec.Assertions[1].ExpectedCount
	require.NotNil(t, rng)
	assert.Nil(t, rng.Exact)
	assert.Equal(t, 1, *rng.Min)
	assert.Equal(t, 5, *rng.Max)
	assert.Equal(t, "{min:1 max:5}", rng.String())
	assert.True(t, rng.Matches(3))
	assert.False(t, rng.Matches(6))
	assert.False(t, rng.Matches(0))
}

func TestCompile_CanonicalRoundTripIsStable(t *testing.T) {
	c := testCompiler(t)

	spec, err := c.Compile([]byte(`{
		"version": "0.1",
		"strict": false,
		"ignore_fields": {"global": ["updated_at"]},
		"assertions": [
			{"diff_type": "changed", "entity": "orders",
			 "where": {"id": 7},
			 "expected_changes": {"status": "shipped", "total": {"from": 10, "to": {"gt": 10}}},
			 "expected_count": {"min": 1}}
		]
	}`))
	require.NoError(t, err)

	canonical, err := spec.CanonicalJSON()
	require.NoError(t, err)

	again, err := c.Compile(canonical)
	require.NoError(t, err)
	assert.Equal(t, spec, again)

	canonical2, err := again.CanonicalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(canonical), string(canonical2))
}

func TestCompile_RejectsInvalidDocuments(t *testing.T) {
	c := testCompiler(t)

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"version":`},
		{"wrong version", `{"version": "2.0", "assertions": [{"diff_type": "added", "entity": "a"}]}`},
		{"missing assertions", `{"version": "0.1"}`},
		{"missing entity", `{"version": "0.1", "assertions": [{"diff_type": "added"}]}`},
		{"unknown diff_type", `{"version": "0.1", "assertions": [{"diff_type": "mutated", "entity": "a"}]}`},
		{"unknown operator", `{"version": "0.1", "assertions": [{"diff_type": "added", "entity": "a", "where": {"x": {"almost_eq": 1}}}]}`},
		{"negative count", `{"version": "0.1", "assertions": [{"diff_type": "added", "entity": "a", "expected_count": -1}]}`},
		{"stray assertion field", `{"version": "0.1", "assertions": [{"diff_type": "added", "entity": "a", "bogus": 1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, fault.BadRequest, fault.KindOf(err))
		})
	}
}

func TestStrictMode_DefaultsTrue(t *testing.T) {
	strict := false
	assert.True(t, (&Spec{}).StrictMode())
	assert.False(t, (&Spec{Strict: &strict}).StrictMode())
}
