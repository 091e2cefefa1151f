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
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/internal/log"
	"github.com/teradata-labs/crucible/internal/pgxdriver"
	"github.com/teradata-labs/crucible/pkg/auth"
	"github.com/teradata-labs/crucible/pkg/dsl"
	"github.com/teradata-labs/crucible/pkg/isolation"
	"github.com/teradata-labs/crucible/pkg/meta"
	"github.com/teradata-labs/crucible/pkg/observability"
	"github.com/teradata-labs/crucible/pkg/runs"
	"github.com/teradata-labs/crucible/pkg/server"
	"github.com/teradata-labs/crucible/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the evaluation platform server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	if err := migrator.MigrateUp(ctx); err != nil {
		return err
	}

	templates := meta.NewTemplateStore(pool, tracer)
	envs := meta.NewEnvironmentStore(pool, tracer)
	tests := meta.NewTestStore(pool, tracer)
	suites := meta.NewSuiteStore(pool, tracer)
	runStore := meta.NewRunStore(pool, tracer)
	diffs, err := meta.NewDiffStore(pool, tracer)
	if err != nil {
		return err
	}
	users := meta.NewUserStore(pool, tracer)

	router := session.NewRouter(pool, envs, tracer)
	engine := isolation.NewEngine(router, templates, envs, tests, tracer)

	compiler, err := dsl.NewCompiler()
	if err != nil {
		return err
	}
	orchestrator := runs.NewOrchestrator(router, compiler, tests, suites, runStore, diffs, tracer, config.Diff.ExcludeColumns)
	manager := runs.NewTestManager(compiler, tests, suites, tracer)

	resolver, err := buildResolver(users, tracer)
	if err != nil {
		return err
	}

	if config.Suites.Dir != "" {
		loader := runs.NewSuiteLoader(config.Suites.Dir, manager, suites)
		if err := loader.LoadAll(ctx); err != nil {
			return err
		}
		if config.Suites.Watch {
			if err := loader.Watch(ctx); err != nil {
				return err
			}
			defer loader.Stop()
		}
	}

	if config.Sweeper.Enabled {
		sweeper := isolation.NewSweeper(engine, envs, config.Sweeper.Schedule)
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	srv := server.NewServer(&server.CoreServices{
		Engine:       engine,
		Orchestrator: orchestrator,
		TestManager:  manager,
		Suites:       suites,
		Environments: envs,
		Resolver:     resolver,
		Tracer:       tracer,
	}, config.Server.Addr, config.ServerCORS())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
		return err
	}
	return <-errCh
}

// buildResolver picks the principal resolver for the configured auth mode.
func buildResolver(users *meta.UserStore, tracer observability.Tracer) (auth.PrincipalResolver, error) {
	switch config.Auth.Mode {
	case AuthModeDev:
		log.Warn("auth mode is dev; every request runs as a platform admin")
		return &auth.StaticResolver{Principal: auth.Principal{
			UserID:          uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			Email:           "dev@localhost",
			IsPlatformAdmin: true,
		}}, nil
	case AuthModeAPIKey:
		return auth.NewAuthenticator(users, tracer), nil
	case AuthModeControlPlane:
		if config.Auth.ControlPlaneURL == "" {
			return nil, fmt.Errorf("auth.control_plane_url is required in control_plane mode")
		}
		timeout := time.Duration(config.Auth.ControlPlaneTimeoutMS) * time.Millisecond
		return auth.NewControlPlaneClient(config.Auth.ControlPlaneURL, timeout), nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", config.Auth.Mode)
}
