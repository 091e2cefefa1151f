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
package meta

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/observability"
)

// UserStore persists users, organization memberships, and API keys.
type UserStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewUserStore creates a PostgreSQL-backed user store.
func NewUserStore(pool *pgxpool.Pool, tracer observability.Tracer) *UserStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &UserStore{pool: pool, tracer: tracer}
}

// InsertUser records a new user.
func (s *UserStore) InsertUser(ctx context.Context, u *User) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.user_store.insert_user")
	defer s.tracer.EndSpan(span)

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta.users (id, email, is_platform_admin, is_organization_admin)
		VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.IsPlatformAdmin, u.IsOrganizationAdmin,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser fetches a user by ID.
func (s *UserStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.user_store.get_user")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("user_id", id.String())

	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, is_platform_admin, is_organization_admin, created_at, updated_at
		FROM meta.users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.IsPlatformAdmin, &u.IsOrganizationAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "user %s not found", id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// OrganizationIDs returns the organizations a user belongs to.
func (s *UserStore) OrganizationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.user_store.organization_ids")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("user_id", userID.String())

	rows, err := s.pool.Query(ctx,
		"SELECT organization_id FROM meta.organization_memberships WHERE user_id = $1",
		userID,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query organization memberships: %w", err)
	}
	defer rows.Close()

	var orgIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan organization id: %w", err)
		}
		orgIDs = append(orgIDs, id)
	}
	return orgIDs, rows.Err()
}

// AddOrganizationMember links a user to an organization.
func (s *UserStore) AddOrganizationMember(ctx context.Context, userID, orgID uuid.UUID) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.user_store.add_organization_member")
	defer s.tracer.EndSpan(span)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta.organization_memberships (user_id, organization_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		userID, orgID,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to add organization member: %w", err)
	}
	return nil
}

// InsertAPIKey records a new API key credential.
func (s *UserStore) InsertAPIKey(ctx context.Context, key *APIKey) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.user_store.insert_api_key")
	defer s.tracer.EndSpan(span)

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta.api_keys (id, key_hash, key_salt, user_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		key.ID, key.KeyHash, key.KeySalt, key.UserID, key.ExpiresAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// GetAPIKey fetches a key record by ID.
func (s *UserStore) GetAPIKey(ctx context.Context, id uuid.UUID) (*APIKey, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.user_store.get_api_key")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("key_id", id.String())

	var key APIKey
	err := s.pool.QueryRow(ctx, `
		SELECT id, key_hash, key_salt, user_id, expires_at, revoked_at, last_used_at, created_at
		FROM meta.api_keys WHERE id = $1`,
		id,
	).Scan(&key.ID, &key.KeyHash, &key.KeySalt, &key.UserID, &key.ExpiresAt, &key.RevokedAt, &key.LastUsedAt, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "api key %s not found", id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &key, nil
}

// TouchAPIKey updates a key's last_used_at timestamp.
func (s *UserStore) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.user_store.touch_api_key")
	defer s.tracer.EndSpan(span)

	_, err := s.pool.Exec(ctx,
		"UPDATE meta.api_keys SET last_used_at = NOW() WHERE id = $1", id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// RevokeAPIKey marks a key revoked. Revoked keys fail authentication.
func (s *UserStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.user_store.revoke_api_key")
	defer s.tracer.EndSpan(span)

	tag, err := s.pool.Exec(ctx,
		"UPDATE meta.api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL", id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.Newf(fault.NotFound, "api key %s not found or already revoked", id)
	}
	return nil
}
