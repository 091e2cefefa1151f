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
package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/crucible/internal/log"
	"github.com/teradata-labs/crucible/internal/pgxdriver"
	"github.com/teradata-labs/crucible/pkg/auth"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var (
	apikeyUserID string
	apikeyDays   int
)

var apikeyIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new API key for a user",
	Long: `Issues an ak_* token for the given user. The secret is printed once
and only its hash is stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
			return err
		}
		userID, err := uuid.Parse(apikeyUserID)
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}

		ctx := cmd.Context()
		tracer := observability.NewZapTracer(log.Logger())
		pool, err := pgxdriver.NewPool(ctx, config.Database, tracer)
		if err != nil {
			return err
		}
		defer pool.Close()

		users := meta.NewUserStore(pool, tracer)
		authn := auth.NewAuthenticator(users, tracer)

		validity := auth.DefaultKeyValidity
		if apikeyDays > 0 {
			validity = time.Duration(apikeyDays) * 24 * time.Hour
		}
		key, err := authn.IssueKey(ctx, userID, validity)
		if err != nil {
			return err
		}

		fmt.Printf("key id:     %s\n", key.KeyID)
		fmt.Printf("expires at: %s\n", key.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("token:      %s\n", key.Token)
		return nil
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
			return err
		}
		keyID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid key id: %w", err)
		}

		ctx := cmd.Context()
		tracer := observability.NewZapTracer(log.Logger())
		pool, err := pgxdriver.NewPool(ctx, config.Database, tracer)
		if err != nil {
			return err
		}
		defer pool.Close()

		users := meta.NewUserStore(pool, tracer)
		if err := users.RevokeAPIKey(ctx, keyID); err != nil {
			return err
		}
		fmt.Printf("revoked %s\n", keyID)
		return nil
	},
}

func init() {
	apikeyIssueCmd.Flags().StringVar(&apikeyUserID, "user", "", "user UUID to issue the key for (required)")
	apikeyIssueCmd.Flags().IntVar(&apikeyDays, "days", 0, "validity in days (default 90)")
	_ = apikeyIssueCmd.MarkFlagRequired("user")

	apikeyCmd.AddCommand(apikeyIssueCmd, apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}
