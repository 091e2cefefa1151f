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
	"fmt"
	"sort"

	"github.com/teradata-labs/crucible/pkg/diff"
)

// Score summarizes how many assertions held.
type Score struct {
	Passed  int     `json:"passed"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// Result is the outcome of evaluating a spec against a diff.
type Result struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures"`
	Score    Score    `json:"score"`
}

// Evaluate checks every assertion in the spec against the diff. An
// assertion can contribute more than one failure message; the score counts
// distinct failed assertions. An empty spec scores 100 percent.
func Evaluate(spec *Spec, d *diff.Diff) *Result {
	e := &evaluator{spec: spec, failed: make(map[int]bool)}

	for i, a := range spec.Assertions {
		idx := i + 1
		switch a.DiffType {
		case KindAdded:
			matched := matchRows(d.Inserts, a.Entity, a.Where)
			e.checkCount(a, len(matched), idx)
		case KindRemoved:
			matched := matchRows(d.Deletes, a.Entity, a.Where)
			e.checkCount(a, len(matched), idx)
		case KindChanged:
			e.evalChanged(a, d, idx)
		case KindUnchanged:
			e.evalUnchanged(a, d, idx)
		default:
			e.fail(idx, fmt.Sprintf("assertion#%d has unknown diff_type: %s", idx, a.DiffType))
		}
	}

	total := len(spec.Assertions)
	failedCount := len(e.failed)
	passedCount := total - failedCount
	if passedCount < 0 {
		passedCount = 0
	}
	percent := 100.0
	if total > 0 {
		percent = float64(passedCount) / float64(total) * 100.0
	}

	failures := e.failures
	if failures == nil {
		failures = []string{}
	}
	return &Result{
		Passed:   failedCount == 0,
		Failures: failures,
		Score:    Score{Passed: passedCount, Total: total, Percent: percent},
	}
}

type evaluator struct {
	spec     *Spec
	failures []string
	failed   map[int]bool
}

func (e *evaluator) fail(idx int, msg string) {
	e.failed[idx] = true
	e.failures = append(e.failures, msg)
}

// checkCount applies the count requirement for added, removed, and changed
// assertions. Without an explicit expected_count, at least one match is
// required.
func (e *evaluator) checkCount(a Assertion, actual, idx int) {
	if a.ExpectedCount == nil {
		if actual < 1 {
			e.fail(idx, fmt.Sprintf("assertion#%d %s expected at least 1 match but got %d", idx, a.Entity, actual))
		}
		return
	}
	if !a.ExpectedCount.Matches(actual) {
		e.fail(idx, fmt.Sprintf("assertion#%d %s expected count %v but got %d", idx, a.Entity, a.ExpectedCount, actual))
	}
}

func (e *evaluator) evalChanged(a Assertion, d *diff.Diff, idx int) {
	ignores := e.ignoreSet(a)
	expectedKeys := make([]string, 0, len(a.ExpectedChanges))
	for k := range a.ExpectedChanges {
		expectedKeys = append(expectedKeys, k)
	}
	sort.Strings(expectedKeys)

	matched := 0
	for _, upd := range d.Updates {
		if upd.Table != a.Entity {
			continue
		}
		before := map[string]any(upd.Before)
		after := map[string]any(upd.After)
		if !rowMatchesWhere(after, a.Where) && !rowMatchesWhere(before, a.Where) {
			continue
		}

		changed := changedKeys(before, after, ignores)
		if e.spec.StrictMode() && !subset(changed, a.ExpectedChanges) {
			sortedChanged := make([]string, 0, len(changed))
			for k := range changed {
				sortedChanged = append(sortedChanged, k)
			}
			sort.Strings(sortedChanged)
			e.fail(idx, fmt.Sprintf("assertion#%d %s changed fields %v not subset of expected %v",
				idx, a.Entity, sortedChanged, expectedKeys))
			continue
		}

		if changeMatches(a.ExpectedChanges, changed, before, after) {
			matched++
		}
	}
	e.checkCount(a, matched, idx)
}

func (e *evaluator) evalUnchanged(a Assertion, d *diff.Diff, idx int) {
	total := len(matchRows(d.Inserts, a.Entity, a.Where)) + len(matchRows(d.Deletes, a.Entity, a.Where))
	for _, upd := range d.Updates {
		if upd.Table != a.Entity {
			continue
		}
		if rowMatchesWhere(map[string]any(upd.After), a.Where) || rowMatchesWhere(map[string]any(upd.Before), a.Where) {
			total++
		}
	}

	if a.ExpectedCount == nil {
		if total != 0 {
			e.fail(idx, fmt.Sprintf("assertion#%d %s expected no changes but found %d", idx, a.Entity, total))
		}
		return
	}
	if !a.ExpectedCount.Matches(total) {
		e.fail(idx, fmt.Sprintf("assertion#%d %s expected count %v but got %d (unchanged)", idx, a.Entity, a.ExpectedCount, total))
	}
}

// ignoreSet merges the global ignore list, the entity's, and the
// assertion's.
func (e *evaluator) ignoreSet(a Assertion) map[string]bool {
	ignores := make(map[string]bool)
	for _, f := range e.spec.IgnoreFields["global"] {
		ignores[f] = true
	}
	for _, f := range e.spec.IgnoreFields[a.Entity] {
		ignores[f] = true
	}
	for _, f := range a.Ignore {
		ignores[f] = true
	}
	return ignores
}

func matchRows(rows []diff.Row, entity string, where map[string]Predicate) []diff.Row {
	var matched []diff.Row
	for _, r := range rows {
		if table, _ := r[diff.TableKey].(string); table != entity {
			continue
		}
		if rowMatchesWhere(map[string]any(r), where) {
			matched = append(matched, r)
		}
	}
	return matched
}

func rowMatchesWhere(row map[string]any, where map[string]Predicate) bool {
	for key, pred := range where {
		if !pred.Matches(lookup(row, key)) {
			return false
		}
	}
	return true
}

// changedKeys returns the non-ignored keys whose values differ between the
// two row images.
func changedKeys(before, after map[string]any, ignores map[string]bool) map[string]bool {
	changed := make(map[string]bool)
	for k := range before {
		if !ignores[k] && !looseEqual(before[k], after[k]) {
			changed[k] = true
		}
	}
	for k := range after {
		if _, seen := before[k]; seen {
			continue
		}
		if !ignores[k] && !looseEqual(before[k], after[k]) {
			changed[k] = true
		}
	}
	return changed
}

func subset(changed map[string]bool, expected map[string]FieldChange) bool {
	for k := range changed {
		if _, ok := expected[k]; !ok {
			return false
		}
	}
	return true
}

// changeMatches requires every expected field to actually have changed and
// its before/after values to satisfy the from/to predicates.
func changeMatches(expected map[string]FieldChange, changed map[string]bool, before, after map[string]any) bool {
	for field, chg := range expected {
		if !changed[field] {
			return false
		}
		if chg.From != nil && !chg.From.Matches(before[field]) {
			return false
		}
		if chg.To != nil && !chg.To.Matches(after[field]) {
			return false
		}
	}
	return true
}
