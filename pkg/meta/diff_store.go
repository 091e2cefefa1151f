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
	"github.com/klauspost/compress/zstd"

	"github.com/teradata-labs/crucible/pkg/fault"
	"github.com/teradata-labs/crucible/pkg/observability"
)

// diffCompressionThreshold is the minimum payload size in bytes to trigger
// zstd compression before storage. Diff documents for busy tenants can run
// to megabytes; small ones are stored as-is.
const diffCompressionThreshold = 32 * 1024

// DiffStore persists diff payloads, transparently compressing large ones.
type DiffStore struct {
	pool    *pgxpool.Pool
	tracer  observability.Tracer
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewDiffStore creates a PostgreSQL-backed diff store.
func NewDiffStore(pool *pgxpool.Pool, tracer observability.Tracer) (*DiffStore, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	// Reusable and safe for concurrent use.
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &DiffStore{pool: pool, tracer: tracer, encoder: encoder, decoder: decoder}, nil
}

// Insert stores a diff payload keyed by environment and snapshot pair.
func (s *DiffStore) Insert(ctx context.Context, rec *DiffRecord) error {
	ctx, span := s.tracer.StartSpan(ctx, "meta.diff_store.insert")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("environment_id", rec.EnvironmentID.String())
	span.SetAttribute("payload_size", len(rec.Payload))

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	payload := []byte(rec.Payload)
	compressed := false
	if len(payload) >= diffCompressionThreshold {
		payload = s.encoder.EncodeAll(payload, nil)
		compressed = true
		span.SetAttribute("compressed_size", len(payload))
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta.diffs (id, environment_id, before_suffix, after_suffix, payload, compressed)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.EnvironmentID, rec.BeforeSuffix, rec.AfterSuffix, payload, compressed,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert diff: %w", err)
	}
	return nil
}

// Get fetches a diff by ID, decompressing the payload if needed.
func (s *DiffStore) Get(ctx context.Context, id uuid.UUID) (*DiffRecord, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.diff_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("diff_id", id.String())

	var (
		rec        DiffRecord
		payload    []byte
		compressed bool
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, environment_id, before_suffix, after_suffix, payload, compressed, created_at
		FROM meta.diffs WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.EnvironmentID, &rec.BeforeSuffix, &rec.AfterSuffix, &payload, &compressed, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.Newf(fault.NotFound, "diff %s not found", id)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get diff: %w", err)
	}

	if compressed {
		payload, err = s.decoder.DecodeAll(payload, nil)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to decompress diff payload: %w", err)
		}
	}
	rec.Payload = payload
	return &rec, nil
}

// GetForRun fetches the diff recorded for a run's snapshot pair, or nil when
// none was stored.
func (s *DiffStore) GetForRun(ctx context.Context, envID uuid.UUID, beforeSuffix, afterSuffix string) (*DiffRecord, error) {
	ctx, span := s.tracer.StartSpan(ctx, "meta.diff_store.get_for_run")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("environment_id", envID.String())

	var (
		rec        DiffRecord
		payload    []byte
		compressed bool
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, environment_id, before_suffix, after_suffix, payload, compressed, created_at
		FROM meta.diffs
		WHERE environment_id = $1 AND before_suffix = $2 AND after_suffix = $3
		ORDER BY created_at DESC
		LIMIT 1`,
		envID, beforeSuffix, afterSuffix,
	).Scan(&rec.ID, &rec.EnvironmentID, &rec.BeforeSuffix, &rec.AfterSuffix, &payload, &compressed, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get diff for run: %w", err)
	}

	if compressed {
		payload, err = s.decoder.DecodeAll(payload, nil)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to decompress diff payload: %w", err)
		}
	}
	rec.Payload = payload
	return &rec, nil
}
