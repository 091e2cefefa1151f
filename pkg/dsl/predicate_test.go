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
)

func TestPredicate_Eq(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected any
		want     bool
	}{
		{"string match", "open", "open", true},
		{"string mismatch", "open", "closed", false},
		{"numeric cross-type", float64(1), 1, true},
		{"nil equals nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Predicate{"eq": tt.expected}
			assert.Equal(t, tt.want, p.Matches(tt.value))
		})
	}
}

func TestPredicate_NeAliases(t *testing.T) {
	assert.True(t, Predicate{"ne": "a"}.Matches("b"))
	assert.True(t, Predicate{"not_eq": "a"}.Matches("b"))
	assert.False(t, Predicate{"ne": "a"}.Matches("a"))
}

func TestPredicate_Membership(t *testing.T) {
	list := []any{"open", "closed"}

	assert.True(t, Predicate{"in": list}.Matches("open"))
	assert.False(t, Predicate{"in": list}.Matches("pending"))
	assert.True(t, Predicate{"not_in": list}.Matches("pending"))

	// Strings act as containers: membership means substring.
	assert.True(t, Predicate{"in": "reopened"}.Matches("open"))

	// A non-container on the not_in side cannot prove absence.
	assert.False(t, Predicate{"not_in": 42}.Matches("anything"))
}

func TestPredicate_StringOperators(t *testing.T) {
	tests := []struct {
		op       string
		value    any
		expected any
		want     bool
	}{
		{"contains", "hello world", "world", true},
		{"contains", "hello", "world", false},
		{"not_contains", "hello", "world", true},
		{"i_contains", "Hello World", "world", true},
		{"starts_with", "environment", "env", true},
		{"starts_with", "environment", "ENV", false},
		{"i_starts_with", "Environment", "env", true},
		{"ends_with", "report.pdf", ".pdf", true},
		{"i_ends_with", "report.PDF", ".pdf", true},
		// Non-strings never satisfy string operators.
		{"contains", 42, "4", false},
		{"starts_with", "42", 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			p := Predicate{tt.op: tt.expected}
			assert.Equal(t, tt.want, p.Matches(tt.value))
		})
	}
}

func TestPredicate_Regex(t *testing.T) {
	// Search semantics: the pattern may match anywhere.
	assert.True(t, Predicate{"regex": `\d{3}`}.Matches("order-123-x"))
	assert.False(t, Predicate{"regex": `^\d+$`}.Matches("order-123"))
	// A broken pattern is simply a non-match.
	assert.False(t, Predicate{"regex": `([`}.Matches("anything"))
	assert.False(t, Predicate{"regex": `x`}.Matches(7))
}

func TestPredicate_Comparisons(t *testing.T) {
	assert.True(t, Predicate{"gt": float64(5)}.Matches(float64(6)))
	assert.False(t, Predicate{"gt": float64(5)}.Matches(float64(5)))
	assert.True(t, Predicate{"gte": float64(5)}.Matches(float64(5)))
	assert.True(t, Predicate{"lt": float64(5)}.Matches(float64(4)))
	assert.True(t, Predicate{"lte": float64(5)}.Matches(float64(5)))

	// Strings order lexicographically.
	assert.True(t, Predicate{"lt": "b"}.Matches("a"))

	// Mixed types are a non-match, not an error.
	assert.False(t, Predicate{"gt": "5"}.Matches(float64(6)))
	assert.False(t, Predicate{"lt": float64(5)}.Matches(nil))
}

func TestPredicate_Exists(t *testing.T) {
	assert.True(t, Predicate{"exists": true}.Matches("value"))
	assert.False(t, Predicate{"exists": true}.Matches(nil))
	assert.True(t, Predicate{"exists": false}.Matches(nil))
	assert.False(t, Predicate{"exists": false}.Matches("value"))
}

func TestPredicate_HasAnyHasAll(t *testing.T) {
	tags := []any{"red", "green"}

	assert.True(t, Predicate{"has_any": []any{"green", "blue"}}.Matches(tags))
	assert.False(t, Predicate{"has_any": []any{"blue"}}.Matches(tags))
	assert.True(t, Predicate{"has_all": []any{"red", "green"}}.Matches(tags))
	assert.False(t, Predicate{"has_all": []any{"red", "blue"}}.Matches(tags))

	// The value must be a container.
	assert.False(t, Predicate{"has_all": []any{"red"}}.Matches(42))
}

func TestPredicate_MultipleOperatorsAllMustHold(t *testing.T) {
	p := Predicate{"gte": float64(10), "lte": float64(20)}
	assert.True(t, p.Matches(float64(15)))
	assert.False(t, p.Matches(float64(25)))
}

func TestPredicate_EmptyAlwaysHolds(t *testing.T) {
	assert.True(t, Predicate{}.Matches(nil))
	assert.True(t, Predicate{}.Matches("anything"))
}

func TestPredicate_UnknownOperatorNeverMatches(t *testing.T) {
	assert.False(t, Predicate{"fuzzy_eq": "x"}.Matches("x"))
}

func TestLookup_DottedPath(t *testing.T) {
	row := map[string]any{
		"meta": map[string]any{"owner": map[string]any{"id": "u1"}},
		"name": "top",
	}
	assert.Equal(t, "u1", lookup(row, "meta.owner.id"))
	assert.Equal(t, "top", lookup(row, "name"))
	assert.Nil(t, lookup(row, "meta.missing.id"))
	assert.Nil(t, lookup(row, "name.nested"))
}
