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

// Package dsl compiles and evaluates expectation documents: declarative
// assertions over a state diff. Compilation validates a document against the
// embedded JSON Schema and normalizes shorthand forms, so stored
// expectations are always canonical.
package dsl

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/crucible/pkg/fault"
)

//go:embed schema.json
var schemaJSON []byte

// Version is the only DSL version this compiler accepts.
const Version = "0.1"

// Diff kinds an assertion can target.
const (
	KindAdded     = "added"
	KindRemoved   = "removed"
	KindChanged   = "changed"
	KindUnchanged = "unchanged"
)

// Predicate is a set of operator conditions over one value. A predicate
// holds when every operator holds; an empty predicate always holds.
// Shorthand scalars decode to {"eq": value}.
type Predicate map[string]any

// UnmarshalJSON normalizes bare scalars and arrays into an eq predicate.
func (p *Predicate) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if m, ok := raw.(map[string]any); ok {
		*p = m
		return nil
	}
	*p = Predicate{"eq": raw}
	return nil
}

// FieldChange constrains a field's before and after values. Shorthand
// scalars decode to a to-side eq predicate.
type FieldChange struct {
	From Predicate `json:"from,omitempty"`
	To   Predicate `json:"to,omitempty"`
}

// UnmarshalJSON accepts either the {from, to} object form or a shorthand
// value meaning "changed to this".
func (f *FieldChange) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := raw.(map[string]any); !ok {
		f.To = Predicate{"eq": raw}
		return nil
	}

	var spec struct {
		From *Predicate `json:"from"`
		To   *Predicate `json:"to"`
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}
	if spec.From != nil {
		f.From = *spec.From
	}
	if spec.To != nil {
		f.To = *spec.To
	}
	return nil
}

// Count is an expected-count requirement: either an exact value or an
// inclusive min/max range.
type Count struct {
	Exact *int
	Min   *int
	Max   *int
}

// UnmarshalJSON accepts a bare integer or a {min, max} object.
func (c *Count) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) > 0 && trimmed[0] != '{' {
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return fmt.Errorf("expected_count must be an integer or range: %w", err)
		}
		c.Exact = &n
		return nil
	}
	var rng struct {
		Min *int `json:"min"`
		Max *int `json:"max"`
	}
	if err := json.Unmarshal(data, &rng); err != nil {
		return err
	}
	c.Min, c.Max = rng.Min, rng.Max
	return nil
}

// MarshalJSON emits the canonical form matching what was parsed.
func (c Count) MarshalJSON() ([]byte, error) {
	if c.Exact != nil {
		return json.Marshal(*c.Exact)
	}
	rng := map[string]int{}
	if c.Min != nil {
		rng["min"] = *c.Min
	}
	if c.Max != nil {
		rng["max"] = *c.Max
	}
	return json.Marshal(rng)
}

// Matches reports whether an observed count satisfies the requirement.
func (c Count) Matches(actual int) bool {
	if c.Exact != nil {
		return actual == *c.Exact
	}
	if c.Min != nil && actual < *c.Min {
		return false
	}
	if c.Max != nil && actual > *c.Max {
		return false
	}
	return true
}

// String renders the requirement for failure messages.
func (c Count) String() string {
	if c.Exact != nil {
		return strconv.Itoa(*c.Exact)
	}
	var parts []string
	if c.Min != nil {
		parts = append(parts, fmt.Sprintf("min:%d", *c.Min))
	}
	if c.Max != nil {
		parts = append(parts, fmt.Sprintf("max:%d", *c.Max))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Assertion is one expectation over the diff.
type Assertion struct {
	DiffType        string                 `json:"diff_type"`
	Entity          string                 `json:"entity"`
	Where           map[string]Predicate   `json:"where,omitempty"`
	ExpectedChanges map[string]FieldChange `json:"expected_changes,omitempty"`
	Ignore          []string               `json:"ignore,omitempty"`
	ExpectedCount   *Count                 `json:"expected_count,omitempty"`
}

// Spec is a compiled expectation document.
type Spec struct {
	Version      string              `json:"version"`
	Strict       *bool               `json:"strict,omitempty"`
	IgnoreFields map[string][]string `json:"ignore_fields,omitempty"`
	Assertions   []Assertion         `json:"assertions"`
}

// StrictMode reports the effective strict setting; strict is the default.
func (s *Spec) StrictMode() bool {
	return s.Strict == nil || *s.Strict
}

// Compiler validates and normalizes expectation documents.
type Compiler struct {
	schema *gojsonschema.Schema
}

// NewCompiler loads the embedded schema.
func NewCompiler() (*Compiler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to load expectation schema: %w", err)
	}
	return &Compiler{schema: schema}, nil
}

// Validate checks a raw document against the schema without compiling it.
func (c *Compiler) Validate(raw []byte) error {
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fault.Wrap(fault.BadRequest, "expectation document is not valid JSON", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fault.Newf(fault.BadRequest, "expectation document invalid: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Compile validates a raw document and returns its normalized form. The
// result round-trips through CanonicalJSON, and compiling canonical output
// again yields the same document.
func (c *Compiler) Compile(raw []byte) (*Spec, error) {
	if err := c.Validate(raw); err != nil {
		return nil, err
	}
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fault.Wrap(fault.BadRequest, "failed to decode expectation document", err)
	}
	return &spec, nil
}

// CanonicalJSON serializes a compiled spec in its normalized form.
func (s *Spec) CanonicalJSON() ([]byte, error) {
	out, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode expectation document: %w", err)
	}
	return out, nil
}
