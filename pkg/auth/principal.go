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

// Package auth authenticates API callers and answers access questions.
// Credentials are long-lived API keys; the platform stores only a salted
// PBKDF2 hash of each key's secret.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID              uuid.UUID
	Email               string
	OrgIDs              []uuid.UUID
	IsPlatformAdmin     bool
	IsOrganizationAdmin bool
}

// Subject returns the identity string recorded on resources the principal
// creates.
func (p *Principal) Subject() string {
	return p.UserID.String()
}

// PrincipalResolver turns an Authorization header value into a principal.
type PrincipalResolver interface {
	Resolve(ctx context.Context, authorization string) (*Principal, error)
}

// StaticResolver always yields the same principal. Development mode uses it
// so the full API surface works without a user database.
type StaticResolver struct {
	Principal Principal
}

// Resolve returns a copy of the fixed principal regardless of credentials.
func (r *StaticResolver) Resolve(_ context.Context, _ string) (*Principal, error) {
	p := r.Principal
	return &p, nil
}

var _ PrincipalResolver = (*StaticResolver)(nil)
