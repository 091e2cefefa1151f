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
package runs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/teradata-labs/crucible/pkg/dsl"
	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
)

// TestSpec is the input shape for registering a test.
type TestSpec struct {
	Name              string          `json:"name" yaml:"name"`
	Prompt            string          `json:"prompt" yaml:"prompt"`
	Type              string          `json:"type" yaml:"type"`
	ExpectedOutput    json.RawMessage `json:"expectedOutput" yaml:"-"`
	TemplateRef       string          `json:"templateRef" yaml:"templateRef"`
	ImpersonateUserID *string         `json:"impersonateUserId,omitempty" yaml:"impersonateUserId,omitempty"`
}

// TestManager registers tests, compiling actionEval expectations to their
// canonical form before they are stored.
type TestManager struct {
	compiler *dsl.Compiler
	tests    *meta.TestStore
	suites   *meta.SuiteStore
	tracer   observability.Tracer
}

// NewTestManager wires a test manager.
func NewTestManager(compiler *dsl.Compiler, tests *meta.TestStore, suites *meta.SuiteStore, tracer observability.Tracer) *TestManager {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &TestManager{compiler: compiler, tests: tests, suites: suites, tracer: tracer}
}

// AddTest validates and stores a test. Expectations of actionEval tests go
// through the compiler; other test types store their document as-is.
func (m *TestManager) AddTest(ctx context.Context, spec TestSpec) (*meta.Test, error) {
	ctx, span := m.tracer.StartSpan(ctx, "runs.test_manager.add_test")
	defer m.tracer.EndSpan(span)
	span.SetAttribute("test_name", spec.Name)
	span.SetAttribute("test_type", spec.Type)

	switch spec.Type {
	case meta.TestTypeAction, meta.TestTypeRetrieval, meta.TestTypeComposite:
	default:
		return nil, fault.Newf(fault.BadRequest, "unknown test type %q", spec.Type)
	}

	expected := []byte(spec.ExpectedOutput)
	if spec.Type == meta.TestTypeAction {
		compiled, err := m.compiler.Compile(expected)
		if err != nil {
			return nil, err
		}
		expected, err = compiled.CanonicalJSON()
		if err != nil {
			return nil, err
		}
	}

	test := &meta.Test{
		ID:                uuid.New(),
		Name:              spec.Name,
		Prompt:            spec.Prompt,
		Type:              spec.Type,
		ExpectedOutput:    expected,
		TemplateRef:       spec.TemplateRef,
		ImpersonateUserID: spec.ImpersonateUserID,
	}
	if err := m.tests.Insert(ctx, test); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return test, nil
}

// GetTest fetches a test by ID.
func (m *TestManager) GetTest(ctx context.Context, id uuid.UUID) (*meta.Test, error) {
	return m.tests.Get(ctx, id)
}

// AddTestToSuite links an existing test into a suite.
func (m *TestManager) AddTestToSuite(ctx context.Context, suiteID, testID uuid.UUID) error {
	if _, err := m.suites.Get(ctx, suiteID); err != nil {
		return err
	}
	if _, err := m.tests.Get(ctx, testID); err != nil {
		return err
	}
	return m.suites.AddTest(ctx, suiteID, testID)
}
