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

// Package diff captures table-level state snapshots inside tenant schemas
// and computes row-level inserts, updates, and deletes between them.
package diff

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Row is one table row, keyed by column name. Every row carries a __table__
// key naming its source table.
type Row map[string]any

// TableKey is the reserved row key holding the source table name.
const TableKey = "__table__"

// Update pairs the before and after images of a changed row.
type Update struct {
	Table  string `json:"__table__"`
	Before Row    `json:"before"`
	After  Row    `json:"after"`
}

// Diff is the full delta between two snapshots of a tenant schema.
type Diff struct {
	Inserts []Row    `json:"inserts"`
	Updates []Update `json:"updates"`
	Deletes []Row    `json:"deletes"`
}

// Empty reports whether the diff contains no changes.
func (d *Diff) Empty() bool {
	return len(d.Inserts) == 0 && len(d.Updates) == 0 && len(d.Deletes) == 0
}

// NormalizeValue maps a database value onto its JSON-safe form: timestamps
// become RFC 3339 UTC strings, UUIDs become their canonical text form, and
// arbitrary-precision numerics become strings so no precision is lost.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err == nil && f.Valid {
			return f.Float64
		}
		return numericString(val)
	case []byte:
		return fmt.Sprintf("%x", val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func numericString(n pgtype.Numeric) string {
	if n.NaN {
		return "NaN"
	}
	val := new(big.Int).Set(n.Int)
	if n.Exp >= 0 {
		val.Mul(val, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
		return val.String()
	}
	return fmt.Sprintf("%se%d", val.String(), n.Exp)
}
