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
package isolation

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/meta"
)

// Caller identifies who is resolving templates, for visibility filtering
// and owner scope resolution.
type Caller struct {
	UserID *uuid.UUID
	OrgIDs []uuid.UUID
}

// ResolveTemplateRef maps a template reference onto a concrete source schema
// and, when the reference names a catalog template, its template ID.
//
// Accepted forms, tried in order:
//   - a template UUID
//   - "service/name", resolved to the newest visible version
//   - a location string registered on one or more templates
//   - a bare schema name, used literally
//
// A location claimed by more than one distinct (service, name) template is
// rejected as ambiguous.
func (e *Engine) ResolveTemplateRef(ctx context.Context, ref string, caller Caller) (string, *uuid.UUID, error) {
	ctx, span := e.tracer.StartSpan(ctx, "isolation.resolve_template_ref")
	defer e.tracer.EndSpan(span)
	span.SetAttribute("ref", ref)

	if ref == "" {
		return "", nil, fault.New(fault.BadRequest, "template reference is empty")
	}

	if id, err := uuid.Parse(ref); err == nil {
		tpl, err := e.templates.GetByID(ctx, id)
		if err != nil {
			return "", nil, err
		}
		return tpl.Location, &tpl.ID, nil
	}

	if service, name, ok := strings.Cut(ref, "/"); ok {
		tpl, err := e.templates.FindByName(ctx, service, name, caller.UserID, caller.OrgIDs)
		if err != nil {
			return "", nil, err
		}
		return tpl.Location, &tpl.ID, nil
	}

	matches, err := e.templates.FindByLocation(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	switch {
	case len(matches) == 0:
		// Bare schema name; clone it directly.
		return ref, nil, nil
	case len(matches) == 1:
		return matches[0].Location, &matches[0].ID, nil
	}

	// Multiple versions of the same template sharing a location are fine;
	// distinct templates are not.
	first := matches[0]
	for _, m := range matches[1:] {
		if m.Service != first.Service || m.Name != first.Name {
			return "", nil, fault.Newf(fault.Conflict, "template_ref_ambiguous: location %s is claimed by multiple templates", ref)
		}
	}
	return first.Location, &first.ID, nil
}

// ResolveTemplateForTest resolves the template reference recorded on a test.
func (e *Engine) ResolveTemplateForTest(ctx context.Context, testID uuid.UUID, caller Caller) (string, *uuid.UUID, error) {
	t, err := e.tests.Get(ctx, testID)
	if err != nil {
		return "", nil, err
	}
	if t.TemplateRef == "" {
		return "", nil, fault.Newf(fault.BadRequest, "test %s has no template reference", testID)
	}
	return e.ResolveTemplateRef(ctx, t.TemplateRef, caller)
}

// ResolveOwner maps a requested owner scope onto concrete owner columns.
// User scope binds to the caller; org scope requires the caller to belong to
// exactly one organization; public binds to nobody.
func ResolveOwner(scope string, caller Caller) (ownerOrgID, ownerUserID *uuid.UUID, err error) {
	switch scope {
	case meta.OwnerScopeUser:
		if caller.UserID == nil {
			return nil, nil, fault.New(fault.Unauthorized, "user scope requires an authenticated user")
		}
		return nil, caller.UserID, nil
	case meta.OwnerScopeOrg:
		if len(caller.OrgIDs) != 1 {
			return nil, nil, fault.Newf(fault.Conflict, "owner_scope_ambiguous: caller belongs to %d organizations", len(caller.OrgIDs))
		}
		return &caller.OrgIDs[0], nil, nil
	case meta.OwnerScopePublic:
		return nil, nil, nil
	}
	return nil, nil, fault.Newf(fault.BadRequest, "unknown owner scope %q", scope)
}

// CreateTemplateFromEnvironment registers a live environment's schema as a
// new template version. The environment's schema becomes the template
// location; the environment must outlive the template for clones to work,
// so callers typically template long-lived seed environments.
func (e *Engine) CreateTemplateFromEnvironment(ctx context.Context, envID uuid.UUID, service, name, version, scope, description string, caller Caller) (*meta.TemplateEnvironment, error) {
	ctx, span := e.tracer.StartSpan(ctx, "isolation.create_template_from_environment")
	defer e.tracer.EndSpan(span)
	span.SetAttribute("environment_id", envID.String())
	span.SetAttribute("service", service)
	span.SetAttribute("name", name)

	env, err := e.envs.Get(ctx, envID)
	if err != nil {
		return nil, err
	}
	if env.Status != meta.EnvStatusReady {
		return nil, fault.Newf(fault.StateError, "environment_not_available: environment %s is %s", envID, env.Status)
	}

	ownerOrgID, ownerUserID, err := ResolveOwner(scope, caller)
	if err != nil {
		return nil, err
	}

	tpl := &meta.TemplateEnvironment{
		Service:     service,
		Name:        name,
		Version:     version,
		OwnerScope:  scope,
		OwnerOrgID:  ownerOrgID,
		OwnerUserID: ownerUserID,
		Kind:        meta.TemplateKindSchemaDump,
		Location:    env.SchemaName,
		Description: description,
	}
	if err := e.templates.Insert(ctx, tpl); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return tpl, nil
}
