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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/crucible/internal/log"
	"github.com/teradata-labs/crucible/pkg/meta"
)

// DefaultSweepSchedule runs the TTL sweep every minute.
const DefaultSweepSchedule = "* * * * *"

// sweepTimeout bounds one sweep pass.
const sweepTimeout = 5 * time.Minute

// Sweeper marks environments whose TTL has elapsed as expired. Expiry is
// advisory: the tenant schema stays in place until the environment is
// explicitly deleted. Expired environments stop resolving immediately
// because schema resolution only matches ready rows.
type Sweeper struct {
	engine   *Engine
	envs     *meta.EnvironmentStore
	cron     *cron.Cron
	schedule string
}

// NewSweeper creates a sweeper on the given cron schedule. An empty
// schedule uses DefaultSweepSchedule.
func NewSweeper(engine *Engine, envs *meta.EnvironmentStore, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		engine:   engine,
		envs:     envs,
		cron:     cron.New(),
		schedule: schedule,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule ttl sweep: %w", err)
	}
	s.cron.Start()
	log.Info("ttl sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("ttl sweeper stopped")
}

// Sweep marks all environments past their TTL as expired, once. Exposed for
// manual triggering and tests; the scheduler calls it on its own cadence.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	elapsed, err := s.envs.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, env := range elapsed {
		if err := s.expire(ctx, env); err != nil {
			log.Warn("failed to mark environment expired",
				zap.String("environment_id", env.ID.String()),
				zap.Error(err))
			continue
		}
		marked++
	}
	return marked, nil
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	marked, err := s.Sweep(ctx)
	if err != nil {
		log.Error("ttl sweep failed", zap.Error(err))
		return
	}
	if marked > 0 {
		log.Info("ttl sweep marked environments expired", zap.Int("count", marked))
	}
}

// expire flips ready to expired. The schema is left untouched; only an
// explicit delete drops it.
func (s *Sweeper) expire(ctx context.Context, env *meta.RuntimeEnvironment) error {
	return s.engine.router.WithMetaSession(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"UPDATE meta.runtime_environments SET status = 'expired', updated_at = NOW() WHERE id = $1 AND status = 'ready'",
			env.ID,
		); err != nil {
			return fmt.Errorf("failed to mark environment expired: %w", err)
		}
		return nil
	})
}
