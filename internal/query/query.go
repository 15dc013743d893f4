// Package query defines a backend-independent query model and the
// executors that run it against the storage adapters.
//
// A Query is built with the fluent Builder and is immutable once built.
// For a fixed dataset, every executor must produce the same logical rows
// and aggregate values; only execution time and the order of ties under
// an unordered query may differ.
package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"polystore/internal/storage"
)

// Operator identifies one condition kind.
type Operator string

const (
	OpEqual              Operator = "eq"
	OpGreaterThan        Operator = "gt"
	OpGreaterThanOrEqual Operator = "gte"
	OpLessThan           Operator = "lt"
	OpLessThanOrEqual    Operator = "lte"
	OpBetween            Operator = "between"
	OpContains           Operator = "contains"
	OpIsNull             Operator = "is_null"
	OpNotNull            Operator = "not_null"
)

// Condition is one predicate over a value field. High is only set for
// between, which is inclusive on both bounds.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
	High     any
}

// Direction orders a sort key.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Ordering is one sort key.
type Ordering struct {
	Field     string
	Direction Direction
}

// AggregateFunc identifies one aggregation.
type AggregateFunc string

const (
	AggCount AggregateFunc = "count"
	AggSum   AggregateFunc = "sum"
	AggAvg   AggregateFunc = "avg"
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
)

// Aggregation is one aggregate over the filtered set. Field is empty for
// count.
type Aggregation struct {
	Func  AggregateFunc
	Field string
}

// Label names the aggregate's column in result rows.
func (a Aggregation) Label() string {
	if a.Func == AggCount {
		return "count"
	}
	return fmt.Sprintf("%s(%s)", a.Func, a.Field)
}

// Query is the immutable query representation. Queries are produced by
// Builder.Build; a query with no facets matches everything unordered.
type Query struct {
	conditions   []Condition
	orderings    []Ordering
	limit        int // -1 when unset
	offset       int
	aggregations []Aggregation
	groupBy      []string
}

// Conditions returns the predicates in application order.
func (q Query) Conditions() []Condition {
	return append([]Condition(nil), q.conditions...)
}

// Orderings returns the sort keys in priority order.
func (q Query) Orderings() []Ordering {
	return append([]Ordering(nil), q.orderings...)
}

// Limit returns the row limit and whether one is set.
func (q Query) Limit() (int, bool) {
	if q.limit < 0 {
		return 0, false
	}
	return q.limit, true
}

// Offset returns the number of rows skipped after ordering.
func (q Query) Offset() int {
	return q.offset
}

// Aggregations returns the requested aggregates.
func (q Query) Aggregations() []Aggregation {
	return append([]Aggregation(nil), q.aggregations...)
}

// GroupBy returns the partition fields.
func (q Query) GroupBy() []string {
	return append([]string(nil), q.groupBy...)
}

// HasAggregation reports whether the query produces aggregate rows
// instead of value rows.
func (q Query) HasAggregation() bool {
	return len(q.aggregations) > 0
}

// HasPagination reports whether limit or offset is set.
func (q Query) HasPagination() bool {
	return q.limit >= 0 || q.offset > 0
}

// Fingerprint returns a stable identity string for result caching.
// Condition values are JSON-encoded so the key keeps their types: the
// number 25 and the string "25" must never share a cache slot.
func (q Query) Fingerprint() string {
	var b strings.Builder
	for _, c := range q.conditions {
		fmt.Fprintf(&b, "c:%s:%s:%s:%s;", c.Field, c.Operator, fingerprintValue(c.Value), fingerprintValue(c.High))
	}
	for _, o := range q.orderings {
		fmt.Fprintf(&b, "o:%s:%s;", o.Field, o.Direction)
	}
	fmt.Fprintf(&b, "l:%d:%d;", q.limit, q.offset)
	for _, a := range q.aggregations {
		fmt.Fprintf(&b, "a:%s:%s;", a.Func, a.Field)
	}
	for _, g := range q.groupBy {
		fmt.Fprintf(&b, "g:%s;", g)
	}
	return b.String()
}

func fingerprintValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Unserializable values fail validation anyway; the type makes
		// the key unambiguous until then.
		return fmt.Sprintf("!%T(%v)", v, v)
	}
	return string(data)
}

// fieldNamePattern restricts condition, ordering, aggregation and group
// fields to plain identifiers; anything else is a malformed clause. This
// also keeps translated json paths free of injection.
var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func queryError(format string, args ...any) error {
	return storage.NewError(storage.CodeQueryFailed, format, args...)
}

// validate rejects malformed queries before any backend work: execution
// fails closed rather than returning best-guess results.
func (q Query) validate() error {
	for _, c := range q.conditions {
		if !fieldNamePattern.MatchString(c.Field) {
			return queryError("condition on invalid field %q", c.Field)
		}
		switch c.Operator {
		case OpEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
			if c.Value == nil {
				return queryError("%s condition on %q requires a value", c.Operator, c.Field)
			}
		case OpBetween:
			if c.Value == nil || c.High == nil {
				return queryError("between condition on %q requires both bounds", c.Field)
			}
		case OpContains:
			if _, ok := c.Value.(string); !ok {
				return queryError("contains condition on %q requires a string, got %T", c.Field, c.Value)
			}
		case OpIsNull, OpNotNull:
		default:
			return queryError("unknown operator %q on field %q", c.Operator, c.Field)
		}
	}

	for _, o := range q.orderings {
		if !fieldNamePattern.MatchString(o.Field) {
			return queryError("ordering on invalid field %q", o.Field)
		}
		if o.Direction != Ascending && o.Direction != Descending {
			return queryError("invalid ordering direction %q on field %q", o.Direction, o.Field)
		}
	}

	if q.offset < 0 {
		return queryError("offset cannot be negative")
	}

	for _, a := range q.aggregations {
		switch a.Func {
		case AggCount:
		case AggSum, AggAvg, AggMin, AggMax:
			if !fieldNamePattern.MatchString(a.Field) {
				return queryError("%s aggregation on invalid field %q", a.Func, a.Field)
			}
		default:
			return queryError("unknown aggregate function %q", a.Func)
		}
	}
	for _, g := range q.groupBy {
		if !fieldNamePattern.MatchString(g) {
			return queryError("group by invalid field %q", g)
		}
	}
	if len(q.groupBy) > 0 && len(q.aggregations) == 0 {
		return queryError("group by requires an aggregation")
	}
	// Aggregate rows carry no orderable value fields; groups are always
	// ordered by their group key instead.
	if len(q.aggregations) > 0 && len(q.orderings) > 0 {
		return queryError("explicit ordering cannot be combined with aggregation")
	}
	return nil
}

// Builder accumulates query facets and finalizes them into an immutable
// Query. Build may be called more than once; later mutations of the
// builder do not affect previously built queries.
type Builder struct {
	q Query
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{q: Query{limit: -1}}
}

func (b *Builder) where(c Condition) *Builder {
	b.q.conditions = append(b.q.conditions, c)
	return b
}

func (b *Builder) WhereEqual(field string, value any) *Builder {
	return b.where(Condition{Field: field, Operator: OpEqual, Value: value})
}

func (b *Builder) WhereGreaterThan(field string, value any) *Builder {
	return b.where(Condition{Field: field, Operator: OpGreaterThan, Value: value})
}

func (b *Builder) WhereGreaterThanOrEqual(field string, value any) *Builder {
	return b.where(Condition{Field: field, Operator: OpGreaterThanOrEqual, Value: value})
}

func (b *Builder) WhereLessThan(field string, value any) *Builder {
	return b.where(Condition{Field: field, Operator: OpLessThan, Value: value})
}

func (b *Builder) WhereLessThanOrEqual(field string, value any) *Builder {
	return b.where(Condition{Field: field, Operator: OpLessThanOrEqual, Value: value})
}

// WhereBetween matches values in [low, high], inclusive on both bounds.
func (b *Builder) WhereBetween(field string, low, high any) *Builder {
	return b.where(Condition{Field: field, Operator: OpBetween, Value: low, High: high})
}

// WhereContains matches string values containing substr, case-sensitive.
func (b *Builder) WhereContains(field string, substr string) *Builder {
	return b.where(Condition{Field: field, Operator: OpContains, Value: substr})
}

func (b *Builder) WhereNull(field string) *Builder {
	return b.where(Condition{Field: field, Operator: OpIsNull})
}

func (b *Builder) WhereNotNull(field string) *Builder {
	return b.where(Condition{Field: field, Operator: OpNotNull})
}

// OrderBy appends a sort key; earlier keys take priority.
func (b *Builder) OrderBy(field string, direction Direction) *Builder {
	b.q.orderings = append(b.q.orderings, Ordering{Field: field, Direction: direction})
	return b
}

func (b *Builder) Limit(n int) *Builder {
	b.q.limit = n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	b.q.offset = n
	return b
}

func (b *Builder) Count() *Builder {
	b.q.aggregations = append(b.q.aggregations, Aggregation{Func: AggCount})
	return b
}

func (b *Builder) Sum(field string) *Builder {
	b.q.aggregations = append(b.q.aggregations, Aggregation{Func: AggSum, Field: field})
	return b
}

func (b *Builder) Avg(field string) *Builder {
	b.q.aggregations = append(b.q.aggregations, Aggregation{Func: AggAvg, Field: field})
	return b
}

func (b *Builder) Min(field string) *Builder {
	b.q.aggregations = append(b.q.aggregations, Aggregation{Func: AggMin, Field: field})
	return b
}

func (b *Builder) Max(field string) *Builder {
	b.q.aggregations = append(b.q.aggregations, Aggregation{Func: AggMax, Field: field})
	return b
}

// GroupBy partitions the filtered rows before aggregation.
func (b *Builder) GroupBy(fields ...string) *Builder {
	b.q.groupBy = append(b.q.groupBy, fields...)
	return b
}

// Build finalizes the accumulated facets into an immutable Query.
func (b *Builder) Build() Query {
	q := b.q
	q.conditions = append([]Condition(nil), b.q.conditions...)
	q.orderings = append([]Ordering(nil), b.q.orderings...)
	q.aggregations = append([]Aggregation(nil), b.q.aggregations...)
	q.groupBy = append([]string(nil), b.q.groupBy...)
	return q
}
