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
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
)

const (
	tokenPrefix      = "ak"
	pbkdf2Iterations = 120_000
	saltBytes        = 16
	secretBytes      = 32

	// DefaultKeyValidity is how long newly issued keys live.
	DefaultKeyValidity = 90 * 24 * time.Hour
)

// HashSecret derives the stored hash for a key secret with a fresh salt.
// Both return values are base64.
func HashSecret(secret string) (hashB64, saltB64 string, err error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}
	dk := pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, sha256.Size, sha256.New)
	return base64.StdEncoding.EncodeToString(dk), base64.StdEncoding.EncodeToString(salt), nil
}

// VerifySecret re-derives the hash under the stored salt and compares in
// constant time.
func VerifySecret(secret, storedHashB64, storedSaltB64 string) bool {
	salt, err := base64.StdEncoding.DecodeString(storedSaltB64)
	if err != nil {
		return false
	}
	stored, err := base64.StdEncoding.DecodeString(storedHashB64)
	if err != nil {
		return false
	}
	derived := pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, sha256.Size, sha256.New)
	return subtle.ConstantTimeCompare(derived, stored) == 1
}

// ParseToken splits an Authorization header value into key ID and secret.
// Accepts both bare tokens and the "ApiKey <token>" scheme; tokens look
// like ak_<keyid>_<secret>.
func ParseToken(header string) (keyID, secret string, err error) {
	token := strings.TrimSpace(header)
	if rest, ok := strings.CutPrefix(token, "ApiKey "); ok {
		token = strings.TrimSpace(rest)
	}
	parts := strings.SplitN(token, "_", 3)
	if len(parts) != 3 || parts[0] != tokenPrefix {
		return "", "", fault.New(fault.Unauthorized, "invalid api key format")
	}
	return parts[1], parts[2], nil
}

// IssuedKey is the one-time response to key creation; the token is never
// recoverable afterwards.
type IssuedKey struct {
	Token     string
	KeyID     uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// Authenticator resolves API keys against the platform catalog.
type Authenticator struct {
	users  *meta.UserStore
	tracer observability.Tracer
}

// NewAuthenticator creates a catalog-backed authenticator.
func NewAuthenticator(users *meta.UserStore, tracer observability.Tracer) *Authenticator {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Authenticator{users: users, tracer: tracer}
}

// IssueKey mints a new API key for a user and stores its hash.
func (a *Authenticator) IssueKey(ctx context.Context, userID uuid.UUID, validity time.Duration) (*IssuedKey, error) {
	ctx, span := a.tracer.StartSpan(ctx, "auth.issue_key")
	defer a.tracer.EndSpan(span)
	span.SetAttribute("user_id", userID.String())

	if validity <= 0 {
		validity = DefaultKeyValidity
	}

	keyID := uuid.New()
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	hashB64, saltB64, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(validity)
	err = a.users.InsertAPIKey(ctx, &meta.APIKey{
		ID:        keyID,
		KeyHash:   hashB64,
		KeySalt:   saltB64,
		UserID:    userID,
		ExpiresAt: &expiresAt,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &IssuedKey{
		Token:     fmt.Sprintf("%s_%s_%s", tokenPrefix, hex.EncodeToString(keyID[:]), secret),
		KeyID:     keyID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve authenticates an Authorization header value and builds the
// caller's principal. Revoked and expired keys fail; successful use touches
// the key's last_used_at.
func (a *Authenticator) Resolve(ctx context.Context, authorization string) (*Principal, error) {
	ctx, span := a.tracer.StartSpan(ctx, "auth.resolve")
	defer a.tracer.EndSpan(span)

	keyIDStr, secret, err := ParseToken(authorization)
	if err != nil {
		return nil, err
	}
	keyID, err := uuid.Parse(keyIDStr)
	if err != nil {
		return nil, fault.New(fault.Unauthorized, "invalid api key format")
	}

	key, err := a.users.GetAPIKey(ctx, keyID)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, fault.New(fault.Unauthorized, "invalid or expired api key")
		}
		span.RecordError(err)
		return nil, err
	}
	if key.RevokedAt != nil || (key.ExpiresAt != nil && !key.ExpiresAt.After(time.Now())) {
		return nil, fault.New(fault.Unauthorized, "invalid or expired api key")
	}
	if !VerifySecret(secret, key.KeyHash, key.KeySalt) {
		return nil, fault.New(fault.Unauthorized, "invalid api key")
	}

	user, err := a.users.GetUser(ctx, key.UserID)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, fault.New(fault.Unauthorized, "api key references non-existent user")
		}
		span.RecordError(err)
		return nil, err
	}

	orgIDs, err := a.users.OrganizationIDs(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := a.users.TouchAPIKey(ctx, keyID); err != nil {
		span.RecordError(err)
	}

	return &Principal{
		UserID:              user.ID,
		Email:               user.Email,
		OrgIDs:              orgIDs,
		IsPlatformAdmin:     user.IsPlatformAdmin,
		IsOrganizationAdmin: user.IsOrganizationAdmin,
	}, nil
}

var _ PrincipalResolver = (*Authenticator)(nil)
