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
package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/crucible/pkg/auth"
	"github.com/teradata-labs/crucible/pkg/diff"
	"github.com/teradata-labs/crucible/pkg/dsl"
	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/isolation"
	"github.com/teradata-labs/crucible/pkg/runs"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type suiteSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleListSuites(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	suites, err := s.core.Suites.List(r.Context(), principal.Subject())
	if err != nil {
		writeError(w, err)
		return
	}
	payload := make([]suiteSummary, 0, len(suites))
	for _, suite := range suites {
		payload = append(payload, suiteSummary{
			ID:          suite.ID.String(),
			Name:        suite.Name,
			Description: suite.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"testSuites": payload})
}

type testSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	Type   string `json:"type"`
}

func (s *Server) handleGetSuite(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	suiteID, err := uuid.Parse(r.PathValue("suiteId"))
	if err != nil {
		writeError(w, fault.New(fault.BadRequest, "invalid suite id"))
		return
	}

	suite, err := s.core.Suites.Get(r.Context(), suiteID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := auth.RequireSuiteAccess(principal, suite); err != nil {
		writeError(w, err)
		return
	}

	tests, err := s.core.Suites.TestsForSuite(r.Context(), suiteID)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]testSummary, 0, len(tests))
	for _, t := range tests {
		summaries = append(summaries, testSummary{
			ID:     t.ID.String(),
			Name:   t.Name,
			Prompt: t.Prompt,
			Type:   t.Type,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          suite.ID.String(),
		"name":        suite.Name,
		"description": suite.Description,
		"tests":       summaries,
	})
}

type initEnvRequest struct {
	TestID            string  `json:"testId"`
	TemplateSchema    string  `json:"templateSchema"`
	TTLSeconds        int     `json:"ttlSeconds"`
	ImpersonateUserID *string `json:"impersonateUserId"`
	ImpersonateEmail  *string `json:"impersonateEmail"`
}

func (s *Server) handleInitEnvironment(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	var body initEnvRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	caller := isolation.Caller{UserID: &principal.UserID, OrgIDs: principal.OrgIDs}

	var (
		sourceSchema string
		templateID   *uuid.UUID
		err          error
	)
	if body.TemplateSchema != "" {
		sourceSchema, templateID, err = s.core.Engine.ResolveTemplateRef(r.Context(), body.TemplateSchema, caller)
	} else {
		testID, parseErr := uuid.Parse(body.TestID)
		if parseErr != nil {
			writeError(w, fault.New(fault.BadRequest, "invalid test id"))
			return
		}
		sourceSchema, templateID, err = s.core.Engine.ResolveTemplateForTest(r.Context(), testID, caller)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	env, err := s.core.Engine.CreateEnvironment(r.Context(), sourceSchema, templateID, isolation.CreateOptions{
		TTL:               time.Duration(body.TTLSeconds) * time.Second,
		CreatedBy:         principal.Subject(),
		ImpersonateUserID: body.ImpersonateUserID,
		ImpersonateEmail:  body.ImpersonateEmail,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"environmentId":  env.ID.String(),
		"environmentUrl": "/v1/env/" + env.ID.String(),
		"expiresAt":      env.ExpiresAt,
		"schemaName":     env.SchemaName,
	})
}

type startRunRequest struct {
	TestID      string  `json:"testId"`
	TestSuiteID *string `json:"testSuiteId"`
	EnvID       string  `json:"envId"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	var body startRunRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	testID, err := uuid.Parse(body.TestID)
	if err != nil {
		writeError(w, fault.New(fault.BadRequest, "invalid test id"))
		return
	}
	envID, err := uuid.Parse(body.EnvID)
	if err != nil {
		writeError(w, fault.New(fault.BadRequest, "invalid environment id"))
		return
	}
	var suiteID *uuid.UUID
	if body.TestSuiteID != nil {
		id, err := uuid.Parse(*body.TestSuiteID)
		if err != nil {
			writeError(w, fault.New(fault.BadRequest, "invalid suite id"))
			return
		}
		suiteID = &id
	}

	run, err := s.core.Orchestrator.StartRun(r.Context(), principal, runs.StartRunRequest{
		TestID:        testID,
		TestSuiteID:   suiteID,
		EnvironmentID: envID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"runId":          run.ID.String(),
		"status":         run.Status,
		"beforeSnapshot": run.BeforeSnapshotSuffix,
	})
}

type endRunRequest struct {
	RunID string `json:"runId"`
}

func (s *Server) handleEndRun(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	var body endRunRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	runID, err := uuid.Parse(body.RunID)
	if err != nil {
		writeError(w, fault.New(fault.BadRequest, "invalid run id"))
		return
	}

	run, result, err := s.core.Orchestrator.EndRun(r.Context(), principal, runID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":  run.ID.String(),
		"status": run.Status,
		"passed": result.Passed,
		"score":  result.Score,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	runID, err := uuid.Parse(r.PathValue("runId"))
	if err != nil {
		writeError(w, fault.New(fault.BadRequest, "invalid run id"))
		return
	}

	run, result, err := s.core.Orchestrator.GetResult(r.Context(), principal, runID)
	if err != nil {
		writeError(w, err)
		return
	}

	var (
		passed   bool
		score    *dsl.Score
		failures []string
		d        *diff.Diff
	)
	if result != nil {
		passed = result.Passed
		score = &result.Score
		failures = result.Failures
		d = result.Diff
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runId":     run.ID.String(),
		"status":    run.Status,
		"passed":    passed,
		"score":     score,
		"failures":  failures,
		"diff":      d,
		"createdAt": run.CreatedAt,
	})
}

func (s *Server) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	envID, err := uuid.Parse(r.PathValue("envId"))
	if err != nil {
		writeError(w, fault.New(fault.BadRequest, "invalid environment id"))
		return
	}

	env, err := s.core.Environments.Get(r.Context(), envID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := auth.RequireEnvironmentAccess(principal, env); err != nil {
		writeError(w, err)
		return
	}
	if err := s.core.Engine.DeleteEnvironment(r.Context(), envID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"environmentId": envID.String(),
		"status":        "deleted",
	})
}

type createTemplateRequest struct {
	EnvironmentID string `json:"environmentId"`
	Service       string `json:"service"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	Scope         string `json:"scope"`
	Description   string `json:"description"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	var body createTemplateRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	envID, err := uuid.Parse(body.EnvironmentID)
	if err != nil {
		writeError(w, fault.New(fault.BadRequest, "invalid environment id"))
		return
	}
	if body.Service == "" || body.Name == "" {
		writeError(w, fault.New(fault.BadRequest, "service and name are required"))
		return
	}
	if body.Version == "" {
		body.Version = "v1"
	}
	if body.Scope == "" {
		body.Scope = "user"
	}

	caller := isolation.Caller{UserID: &principal.UserID, OrgIDs: principal.OrgIDs}
	tpl, err := s.core.Engine.CreateTemplateFromEnvironment(r.Context(), envID,
		body.Service, body.Name, body.Version, body.Scope, body.Description, caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"templateId": tpl.ID.String(),
		"service":    tpl.Service,
		"name":       tpl.Name,
		"version":    tpl.Version,
		"scope":      tpl.OwnerScope,
		"location":   tpl.Location,
	})
}
