// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persistence

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Apply evaluates the query in memory: filter, sort, skip, limit.
// Documents without an explicit sort are returned in insertion order.
// The input slice is not modified.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))

	for _, doc := range docs {
		if Matches(doc, q.Filters) {
			out = append(out, doc)
		}
	}

	sortBy := q.SortBy
	if len(sortBy) == 0 {
		sortBy = []SortField{{Field: FieldSeq, Order: Asc}}
	}

	sort.SliceStable(out, func(i, j int) bool {
		for _, s := range sortBy {
			c := compareForSort(out[i][s.Field], out[j][s.Field])
			if c == 0 {
				continue
			}

			if s.Order == Desc {
				return c > 0
			}

			return c < 0
		}

		return false
	})

	if q.SkipCount > 0 {
		if q.SkipCount >= len(out) {
			return []Document{}
		}

		out = out[q.SkipCount:]
	}

	if limit := q.EffectiveLimit(); limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

// Matches reports whether the document satisfies every filter.
func Matches(doc Document, filters []FilterCondition) bool {
	for _, f := range filters {
		if !matchCondition(doc[f.Field], f.Op, f.Value) {
			return false
		}
	}

	return true
}

func matchCondition(actual interface{}, op Operator, expected interface{}) bool {
	switch op {
	case Eq:
		return valuesEqual(actual, expected)
	case Ne:
		return !valuesEqual(actual, expected)
	case Gt, Gte, Lt, Lte:
		c, ok := compareValues(actual, expected)
		if !ok {
			return false
		}

		switch op {
		case Gt:
			return c > 0
		case Gte:
			return c >= 0
		case Lt:
			return c < 0
		default:
			return c <= 0
		}
	case In:
		return inSlice(actual, expected)
	case Nin:
		return !inSlice(actual, expected)
	default:
		return false
	}
}

func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	c, ok := compareValues(a, b)

	return ok && c == 0
}

func inSlice(actual, list interface{}) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}

	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(actual, rv.Index(i).Interface()) {
			return true
		}
	}

	return false
}

// compareValues compares two scalars of the same kind. Numbers of any Go
// type compare numerically.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := ToFloat(a); ok {
		bf, ok := ToFloat(b)
		if !ok {
			return 0, false
		}

		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}

		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}

		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	}

	return 0, false
}

// compareForSort orders missing values before present ones and falls back to
// equality for incomparable pairs.
func compareForSort(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	c, _ := compareValues(a, b)

	return c
}

// ToFloat converts any numeric document value to float64. Backends decode
// JSON numbers differently, so every representation is accepted.
func ToFloat(v interface{}) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}
