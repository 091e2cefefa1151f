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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/crucible/internal/log"
	"github.com/teradata-labs/crucible/internal/pgxdriver"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage platform catalog migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *meta.Migrator) error {
			return m.MigrateUp(ctx)
		})
	},
}

var migrateDownSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *meta.Migrator) error {
			return m.MigrateDown(ctx, migrateDownSteps)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current migration version and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *meta.Migrator) error {
			version, err := m.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			pending, err := m.PendingMigrations(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("current version: %d\n", version)
			if len(pending) == 0 {
				fmt.Println("no pending migrations")
				return nil
			}
			for _, mig := range pending {
				fmt.Printf("pending: %06d %s\n", mig.Version, mig.Description)
			}
			return nil
		})
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrator(ctx context.Context, fn func(context.Context, *meta.Migrator) error) error {
	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		return err
	}
	tracer := observability.NewZapTracer(log.Logger())

	pool, err := pgxdriver.NewPool(ctx, config.Database, tracer)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := meta.NewMigrator(pool, tracer)
	if err != nil {
		return err
	}
	return fn(ctx, migrator)
}
