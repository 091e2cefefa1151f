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
package dsl

import (
	"reflect"
	"regexp"
	"strings"
)

// Matches reports whether a value satisfies every operator in the predicate.
// Unknown operators never match. Comparisons between incompatible types are
// false rather than errors.
func (p Predicate) Matches(value any) bool {
	for op, expected := range p {
		if !matchOp(op, value, expected) {
			return false
		}
	}
	return true
}

func matchOp(op string, value, expected any) bool {
	switch op {
	case "eq":
		return looseEqual(value, expected)
	case "ne", "not_eq":
		return !looseEqual(value, expected)
	case "in":
		return memberOf(value, expected)
	case "not_in":
		if !isContainer(expected) {
			return false
		}
		return !memberOf(value, expected)
	case "contains":
		v, e, ok := bothStrings(value, expected)
		return ok && strings.Contains(v, e)
	case "not_contains":
		v, e, ok := bothStrings(value, expected)
		return ok && !strings.Contains(v, e)
	case "i_contains":
		v, e, ok := bothStrings(value, expected)
		return ok && strings.Contains(strings.ToLower(v), strings.ToLower(e))
	case "starts_with":
		v, e, ok := bothStrings(value, expected)
		return ok && strings.HasPrefix(v, e)
	case "ends_with":
		v, e, ok := bothStrings(value, expected)
		return ok && strings.HasSuffix(v, e)
	case "i_starts_with":
		v, e, ok := bothStrings(value, expected)
		return ok && strings.HasPrefix(strings.ToLower(v), strings.ToLower(e))
	case "i_ends_with":
		v, e, ok := bothStrings(value, expected)
		return ok && strings.HasSuffix(strings.ToLower(v), strings.ToLower(e))
	case "regex":
		v, ok := value.(string)
		if !ok {
			return false
		}
		pattern, ok := expected.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(v)
	case "gt":
		cmp, ok := compare(value, expected)
		return ok && cmp > 0
	case "gte":
		cmp, ok := compare(value, expected)
		return ok && cmp >= 0
	case "lt":
		cmp, ok := compare(value, expected)
		return ok && cmp < 0
	case "lte":
		cmp, ok := compare(value, expected)
		return ok && cmp <= 0
	case "exists":
		return truthy(expected) == (value != nil)
	case "has_any":
		items, ok := expectedList(expected)
		if !ok {
			return false
		}
		for _, item := range items {
			if memberOf(item, value) {
				return true
			}
		}
		return false
	case "has_all":
		items, ok := expectedList(expected)
		if !ok {
			return false
		}
		for _, item := range items {
			if !memberOf(item, value) {
				return false
			}
		}
		return isContainer(value)
	}
	return false
}

// looseEqual compares with numeric tolerance: 1 and 1.0 are equal regardless
// of which numeric type the decoder produced.
func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// memberOf implements membership in a string (substring) or a list
// (element equality).
func memberOf(value, container any) bool {
	switch c := container.(type) {
	case string:
		v, ok := value.(string)
		return ok && strings.Contains(c, v)
	case []any:
		for _, item := range c {
			if looseEqual(value, item) {
				return true
			}
		}
		return false
	case []string:
		v, ok := value.(string)
		if !ok {
			return false
		}
		for _, item := range c {
			if item == v {
				return true
			}
		}
		return false
	}
	return false
}

func isContainer(v any) bool {
	switch v.(type) {
	case string, []any, []string:
		return true
	}
	return false
}

func expectedList(expected any) ([]any, bool) {
	switch e := expected.(type) {
	case nil:
		return nil, true
	case []any:
		return e, true
	case []string:
		out := make([]any, len(e))
		for i, s := range e {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func bothStrings(a, b any) (string, string, bool) {
	as, aok := a.(string)
	bs, bok := b.(string)
	return as, bs, aok && bok
}

// compare orders two values when they are mutually comparable: both numbers
// or both strings. The bool result is false for anything else.
func compare(a, b any) (int, bool) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := asFloat(v); ok {
		return f != 0
	}
	return true
}

// lookup resolves a dotted path against a row, returning nil when any
// segment is missing or not a map.
func lookup(row map[string]any, key string) any {
	var cur any = row
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}
