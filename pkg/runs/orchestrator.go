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

// Package runs orchestrates test runs: the before/after snapshot bracket
// around an agent's work, diff computation, and assertion evaluation.
package runs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/internal/log"
	"github.com/teradata-labs/crucible/pkg/auth"
	"github.com/teradata-labs/crucible/pkg/diff"
	"github.com/teradata-labs/crucible/pkg/dsl"
	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
	"github.com/teradata-labs/crucible/pkg/session"
)

// RunResult is the document persisted on a finished run.
type RunResult struct {
	Passed   bool       `json:"passed"`
	Failures []string   `json:"failures"`
	Score    dsl.Score  `json:"score"`
	Diff     *diff.Diff `json:"diff,omitempty"`
}

// Orchestrator drives the run lifecycle against tenant environments.
type Orchestrator struct {
	router   *session.Router
	compiler *dsl.Compiler
	tests    *meta.TestStore
	suites   *meta.SuiteStore
	runs     *meta.RunStore
	diffs    *meta.DiffStore
	tracer   observability.Tracer

	// Columns the differ never compares, typically volatile bookkeeping.
	excludeColumns []string
}

// NewOrchestrator wires the run orchestrator.
func NewOrchestrator(
	router *session.Router,
	compiler *dsl.Compiler,
	tests *meta.TestStore,
	suites *meta.SuiteStore,
	runs *meta.RunStore,
	diffs *meta.DiffStore,
	tracer observability.Tracer,
	excludeColumns []string,
) *Orchestrator {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Orchestrator{
		router:         router,
		compiler:       compiler,
		tests:          tests,
		suites:         suites,
		runs:           runs,
		diffs:          diffs,
		tracer:         tracer,
		excludeColumns: excludeColumns,
	}
}

// GenerateSuffix produces a snapshot suffix like before_1a2b3c4d.
func GenerateSuffix(prefix string) string {
	id := uuid.New()
	return prefix + "_" + hex.EncodeToString(id[:])[:8]
}

// StartRunRequest identifies the test, the optional suite context, and the
// target environment.
type StartRunRequest struct {
	TestID        uuid.UUID
	TestSuiteID   *uuid.UUID
	EnvironmentID uuid.UUID
}

// StartRun takes the before snapshot of the environment and records a
// running run. When a suite is named, the caller must have access to it.
func (o *Orchestrator) StartRun(ctx context.Context, principal *auth.Principal, req StartRunRequest) (*meta.TestRun, error) {
	ctx, span := o.tracer.StartSpan(ctx, "runs.start_run")
	defer o.tracer.EndSpan(span)
	span.SetAttribute("test_id", req.TestID.String())
	span.SetAttribute("environment_id", req.EnvironmentID.String())

	if _, err := o.tests.Get(ctx, req.TestID); err != nil {
		return nil, err
	}
	if req.TestSuiteID != nil {
		suite, err := o.suites.Get(ctx, *req.TestSuiteID)
		if err != nil {
			return nil, err
		}
		if err := auth.RequireSuiteAccess(principal, suite); err != nil {
			return nil, err
		}
	}

	schema, err := o.router.ResolveSchema(ctx, req.EnvironmentID)
	if err != nil {
		return nil, err
	}

	beforeSuffix := GenerateSuffix("before")
	err = o.router.WithTenantSession(ctx, schema, func(tx pgx.Tx) error {
		differ, err := diff.NewDiffer(ctx, tx, o.tracer, o.excludeColumns)
		if err != nil {
			return err
		}
		return differ.Snapshot(ctx, beforeSuffix)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	run := &meta.TestRun{
		ID:                   uuid.New(),
		TestID:               req.TestID,
		TestSuiteID:          req.TestSuiteID,
		EnvironmentID:        req.EnvironmentID,
		Status:               meta.RunStatusRunning,
		BeforeSnapshotSuffix: &beforeSuffix,
		CreatedBy:            principal.Subject(),
	}
	if err := o.runs.Insert(ctx, run); err != nil {
		span.RecordError(err)
		return nil, err
	}

	log.Info("run started",
		zap.String("run_id", run.ID.String()),
		zap.String("test_id", req.TestID.String()),
		zap.String("environment_id", req.EnvironmentID.String()),
		zap.String("before_suffix", beforeSuffix))
	return run, nil
}

// EndRun takes the after snapshot, computes and persists the diff, and
// evaluates the test's expectation against it. Evaluation failures from the
// snapshot onward do not fail the call: the run finishes with status error
// and a zero score carrying the failure message. Ending a run twice is a
// state error.
func (o *Orchestrator) EndRun(ctx context.Context, principal *auth.Principal, runID uuid.UUID) (*meta.TestRun, *RunResult, error) {
	ctx, span := o.tracer.StartSpan(ctx, "runs.end_run")
	defer o.tracer.EndSpan(span)
	span.SetAttribute("run_id", runID.String())

	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if err := auth.RequireRunAccess(principal, run); err != nil {
		return nil, nil, err
	}
	if meta.RunStatusTerminal(run.Status) {
		return nil, nil, fault.Newf(fault.StateError, "run_already_ended: run %s is %s", runID, run.Status)
	}
	if run.BeforeSnapshotSuffix == nil {
		return nil, nil, fault.Newf(fault.StateError, "run %s has no before snapshot", runID)
	}

	afterSuffix := GenerateSuffix("after")
	result, d, evaluated := o.snapshotAndEvaluate(ctx, run, afterSuffix)
	if d != nil {
		result.Diff = d
	}

	status := meta.RunStatusError
	if evaluated {
		if result.Passed {
			status = meta.RunStatusPassed
		} else {
			status = meta.RunStatusFailed
		}
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to encode run result: %w", err)
	}
	if err := o.runs.Finish(ctx, runID, status, &afterSuffix, resultJSON); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	run.Status = status
	run.AfterSnapshotSuffix = &afterSuffix
	run.Result = resultJSON

	log.Info("run ended",
		zap.String("run_id", runID.String()),
		zap.String("status", status),
		zap.Bool("passed", result.Passed))
	return run, result, nil
}

// snapshotAndEvaluate performs the fallible tail of EndRun. Any error folds
// into an error-shaped result rather than propagating; the third return is
// false in that case. The returned diff is nil when diff computation never
// completed.
func (o *Orchestrator) snapshotAndEvaluate(ctx context.Context, run *meta.TestRun, afterSuffix string) (*RunResult, *diff.Diff, bool) {
	errorResult := func(err error) *RunResult {
		return &RunResult{
			Passed:   false,
			Failures: []string{fmt.Sprintf("runtime error during evaluation: %s: %v", fault.KindOf(err), err)},
			Score:    dsl.Score{Passed: 0, Total: 0, Percent: 0.0},
		}
	}

	schema, err := o.router.ResolveSchema(ctx, run.EnvironmentID)
	if err != nil {
		return errorResult(err), nil, false
	}

	var d *diff.Diff
	err = o.router.WithTenantSession(ctx, schema, func(tx pgx.Tx) error {
		differ, err := diff.NewDiffer(ctx, tx, o.tracer, o.excludeColumns)
		if err != nil {
			return err
		}
		if err := differ.Snapshot(ctx, afterSuffix); err != nil {
			return err
		}
		d, err = differ.Diff(ctx, *run.BeforeSnapshotSuffix, afterSuffix)
		return err
	})
	if err != nil {
		return errorResult(err), nil, false
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return errorResult(err), d, false
	}
	err = o.diffs.Insert(ctx, &meta.DiffRecord{
		EnvironmentID: run.EnvironmentID,
		BeforeSuffix:  *run.BeforeSnapshotSuffix,
		AfterSuffix:   afterSuffix,
		Payload:       payload,
	})
	if err != nil {
		return errorResult(err), d, false
	}

	test, err := o.tests.Get(ctx, run.TestID)
	if err != nil {
		return errorResult(err), d, false
	}
	spec, err := o.compiler.Compile(test.ExpectedOutput)
	if err != nil {
		return errorResult(err), d, false
	}

	eval := dsl.Evaluate(spec, d)
	return &RunResult{
		Passed:   eval.Passed,
		Failures: eval.Failures,
		Score:    eval.Score,
	}, d, true
}

// GetResult returns a finished or in-flight run with its stored result.
func (o *Orchestrator) GetResult(ctx context.Context, principal *auth.Principal, runID uuid.UUID) (*meta.TestRun, *RunResult, error) {
	ctx, span := o.tracer.StartSpan(ctx, "runs.get_result")
	defer o.tracer.EndSpan(span)
	span.SetAttribute("run_id", runID.String())

	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if err := auth.RequireRunAccess(principal, run); err != nil {
		return nil, nil, err
	}

	if len(run.Result) == 0 {
		return run, nil, nil
	}
	var result RunResult
	if err := json.Unmarshal(run.Result, &result); err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to decode run result: %w", err)
	}
	return run, &result, nil
}

// ArchiveRun drops the snapshot tables for a finished run, keeping the
// stored diff as the durable record.
func (o *Orchestrator) ArchiveRun(ctx context.Context, principal *auth.Principal, runID uuid.UUID) error {
	ctx, span := o.tracer.StartSpan(ctx, "runs.archive_run")
	defer o.tracer.EndSpan(span)
	span.SetAttribute("run_id", runID.String())

	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if err := auth.RequireRunAccess(principal, run); err != nil {
		return err
	}
	if !meta.RunStatusTerminal(run.Status) {
		return fault.Newf(fault.StateError, "run %s has not ended", runID)
	}

	schema, err := o.router.ResolveSchema(ctx, run.EnvironmentID)
	if err != nil {
		return err
	}
	return o.router.WithTenantSession(ctx, schema, func(tx pgx.Tx) error {
		differ, err := diff.NewDiffer(ctx, tx, o.tracer, o.excludeColumns)
		if err != nil {
			return err
		}
		for _, suffix := range []*string{run.BeforeSnapshotSuffix, run.AfterSnapshotSuffix} {
			if suffix == nil {
				continue
			}
			if err := differ.Archive(ctx, *suffix); err != nil {
				return err
			}
		}
		return nil
	})
}
