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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/crucible/pkg/fault"
)

// ControlPlaneClient resolves principals against an external control plane
// instead of the local catalog, for deployments where identity lives in a
// central service. The Authorization header is forwarded as received.
type ControlPlaneClient struct {
	baseURL string
	client  *http.Client
}

// NewControlPlaneClient creates a client for the given base URL.
func NewControlPlaneClient(baseURL string, timeout time.Duration) *ControlPlaneClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ControlPlaneClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type principalPayload struct {
	UserID              uuid.UUID   `json:"userId"`
	Email               string      `json:"email"`
	OrgIDs              []uuid.UUID `json:"orgIds"`
	IsPlatformAdmin     bool        `json:"isPlatformAdmin"`
	IsOrganizationAdmin bool        `json:"isOrganizationAdmin"`
}

// Resolve asks the control plane who the caller is.
func (c *ControlPlaneClient) Resolve(ctx context.Context, authorization string) (*Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/principal", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build principal request: %w", err)
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("control plane request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fault.New(fault.Unauthorized, "control plane rejected credentials")
	default:
		return nil, fmt.Errorf("control plane returned status %d", resp.StatusCode)
	}

	var payload principalPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode principal response: %w", err)
	}

	return &Principal{
		UserID:              payload.UserID,
		Email:               payload.Email,
		OrgIDs:              payload.OrgIDs,
		IsPlatformAdmin:     payload.IsPlatformAdmin,
		IsOrganizationAdmin: payload.IsOrganizationAdmin,
	}, nil
}

var _ PrincipalResolver = (*ControlPlaneClient)(nil)
