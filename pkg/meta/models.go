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

// Package meta implements the platform catalog: templates, runtime
// environments, tests, suites, runs, diffs, and API keys, all stored in the
// meta schema of the shared PostgreSQL database.
package meta

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Owner scopes for templates.
const (
	OwnerScopePublic = "public"
	OwnerScopeOrg    = "org"
	OwnerScopeUser   = "user"
)

// Template kinds. Only schemaDump templates are materialized today;
// artifact and jsonDoc locations are reserved for object-store blueprints.
const (
	TemplateKindSchemaDump = "schemaDump"
	TemplateKindArtifact   = "artifact"
	TemplateKindJSONDoc    = "jsonDoc"
)

// TemplateEnvironment is an immutable, named blueprint for a tenant.
// A new version is a new row; rows are never mutated in place.
type TemplateEnvironment struct {
	ID          uuid.UUID
	Service     string
	Name        string
	Version     string
	OwnerScope  string
	OwnerOrgID  *uuid.UUID
	OwnerUserID *uuid.UUID
	Kind        string
	Location    string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Runtime environment statuses.
const (
	EnvStatusInitializing = "initializing"
	EnvStatusReady        = "ready"
	EnvStatusExpired      = "expired"
	EnvStatusDeleted      = "deleted"
)

// RuntimeEnvironment is a live tenant: one schema cloned from a template.
type RuntimeEnvironment struct {
	ID                uuid.UUID
	TemplateID        *uuid.UUID
	SchemaName        string
	Status            string
	ExpiresAt         *time.Time
	LastUsedAt        *time.Time
	CreatedBy         string
	ImpersonateUserID *string
	ImpersonateEmail  *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Test types.
const (
	TestTypeAction    = "actionEval"
	TestTypeRetrieval = "retrievalEval"
	TestTypeComposite = "compositeEval"
)

// Test is a single prompt with a compiled expectation.
// ExpectedOutput holds the canonical compiled DSL document for actionEval
// tests and an opaque document otherwise.
type Test struct {
	ID                uuid.UUID
	Name              string
	Prompt            string
	Type              string
	ExpectedOutput    json.RawMessage
	TemplateRef       string
	ImpersonateUserID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Suite visibility.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// TestSuite groups tests; membership is many-to-many.
type TestSuite struct {
	ID          uuid.UUID
	Name        string
	Description string
	Owner       string
	Visibility  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Run statuses.
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusPassed  = "passed"
	RunStatusFailed  = "failed"
	RunStatusError   = "error"
)

// RunStatusTerminal reports whether a run status admits no further transition.
func RunStatusTerminal(status string) bool {
	switch status {
	case RunStatusPassed, RunStatusFailed, RunStatusError:
		return true
	}
	return false
}

// TestRun is one agent attempt, bracketed by two snapshots.
type TestRun struct {
	ID                   uuid.UUID
	TestID               uuid.UUID
	TestSuiteID          *uuid.UUID
	EnvironmentID        uuid.UUID
	Status               string
	BeforeSnapshotSuffix *string
	AfterSnapshotSuffix  *string
	Result               json.RawMessage
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DiffRecord is a persisted diff payload. Payload is the raw JSON document
// (already decompressed by the store).
type DiffRecord struct {
	ID            uuid.UUID
	EnvironmentID uuid.UUID
	BeforeSuffix  string
	AfterSuffix   string
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// User is a platform principal record.
type User struct {
	ID                  uuid.UUID
	Email               string
	IsPlatformAdmin     bool
	IsOrganizationAdmin bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// APIKey is a stored credential. The secret is never stored; only a
// PBKDF2-SHA256 hash plus salt.
type APIKey struct {
	ID         uuid.UUID
	KeyHash    string
	KeySalt    string
	UserID     uuid.UUID
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}
