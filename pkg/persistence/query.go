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

const (
	DefaultMaxFindLimit = 1000
)

// Operator represents MongoDB-style query operators for filtering documents.
//
// Example usage:
//
//	query := persistence.NewQuery().
//	    Filter("origen", persistence.Eq, "controller").
//	    Filter("referencia_nivel_tanque_cm", persistence.Gt, 50)
type Operator string

const (
	Eq  Operator = "$eq"  // Equal: field == value
	Ne  Operator = "$ne"  // Not equal: field != value
	Gt  Operator = "$gt"  // Greater than: field > value
	Gte Operator = "$gte" // Greater than or equal: field >= value
	Lt  Operator = "$lt"  // Less than: field < value
	Lte Operator = "$lte" // Less than or equal: field <= value
	In  Operator = "$in"  // In array: field IN (value1, value2, ...)
	Nin Operator = "$nin" // Not in array: field NOT IN (value1, value2, ...)
)

// FilterCondition represents a single filter criterion for querying documents.
type FilterCondition struct {
	Field string
	Op    Operator
	Value interface{}
}

// SortOrder represents sort direction (ascending or descending).
// Numeric values follow the MongoDB convention.
type SortOrder int

const (
	Asc  SortOrder = 1  // Ascending order (oldest first for FieldSeq)
	Desc SortOrder = -1 // Descending order (newest first for FieldSeq)
)

// SortField represents a field to sort by and its direction.
type SortField struct {
	Field string
	Order SortOrder
}

// Query represents filtering, sorting, and pagination criteria for finding documents.
//
// Multiple Filter calls are combined with AND. Multiple Sort calls define sort
// precedence: the first one is primary, the next ones are tiebreakers.
//
//	latest := persistence.NewQuery().
//	    Sort(persistence.FieldSeq, persistence.Desc).
//	    Limit(1)
//
// Backends must honour all criteria. A query that only sorts by FieldSeq
// (see OrdersBySeqOnly) can be pushed down to the database; anything else may
// be evaluated in memory with Apply.
type Query struct {
	Filters      []FilterCondition
	SortBy       []SortField
	LimitCount   int
	SkipCount    int
	MaxFindLimit int
}

// NewQuery creates an empty query builder.
func NewQuery() *Query {
	return &Query{}
}

// Latest returns a query for the n most recently inserted documents, newest first.
func Latest(n int) *Query {
	return NewQuery().Sort(FieldSeq, Desc).Limit(n)
}

// Oldest returns a query for the n earliest inserted documents, oldest first.
func Oldest(n int) *Query {
	return NewQuery().Sort(FieldSeq, Asc).Limit(n)
}

// Filter adds a filter condition to the query.
func (q *Query) Filter(field string, op Operator, value interface{}) *Query {
	q.Filters = append(q.Filters, FilterCondition{
		Field: field,
		Op:    op,
		Value: value,
	})

	return q
}

// Sort adds a sort field to the query.
func (q *Query) Sort(field string, order SortOrder) *Query {
	q.SortBy = append(q.SortBy, SortField{
		Field: field,
		Order: order,
	})

	return q
}

// Limit sets the maximum number of documents to return.
// Negative values are treated as 0 (no limit).
func (q *Query) Limit(count int) *Query {
	if count < 0 {
		count = 0
	}

	q.LimitCount = count

	return q
}

// Skip sets the number of documents to skip before returning results.
// Negative values are treated as 0.
func (q *Query) Skip(count int) *Query {
	if count < 0 {
		count = 0
	}

	q.SkipCount = count

	return q
}

func (q *Query) WithMaxFindLimit(limit int) *Query {
	if limit < 0 {
		limit = 0
	}

	q.MaxFindLimit = limit

	return q
}

// OrdersBySeqOnly reports whether the query has no filters and sorts by
// FieldSeq alone. Such queries map directly onto an indexed ORDER BY.
func (q Query) OrdersBySeqOnly() bool {
	if len(q.Filters) > 0 {
		return false
	}

	for _, s := range q.SortBy {
		if s.Field != FieldSeq {
			return false
		}
	}

	return true
}

// SeqOrder returns the FieldSeq direction of the query, Asc when unsorted.
func (q Query) SeqOrder() SortOrder {
	for _, s := range q.SortBy {
		if s.Field == FieldSeq {
			return s.Order
		}
	}

	return Asc
}

// EffectiveLimit combines LimitCount and MaxFindLimit. 0 means unlimited.
func (q Query) EffectiveLimit() int {
	limit := q.LimitCount
	if q.MaxFindLimit > 0 && (limit == 0 || limit > q.MaxFindLimit) {
		limit = q.MaxFindLimit
	}

	return limit
}
