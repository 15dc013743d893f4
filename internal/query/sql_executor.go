package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"polystore/internal/storage"
)

// SQLExecutor translates a query into SQL and pushes execution into the
// SQLite engine: conditions become a WHERE clause over json_extract,
// ordering an ORDER BY, pagination LIMIT/OFFSET, aggregation GROUP BY
// with aggregate functions. Translation preserves the in-memory
// reference semantics exactly; any divergence is a correctness bug.
type SQLExecutor[T any] struct {
	store *storage.SQLStorage[T]
}

var _ Executor[any] = (*SQLExecutor[any])(nil)

// NewSQLExecutor creates an executor translating queries to SQL.
func NewSQLExecutor[T any](store *storage.SQLStorage[T]) *SQLExecutor[T] {
	return &SQLExecutor[T]{store: store}
}

// fieldExpr builds the json path expression for a field. Field names are
// validated against fieldNamePattern before reaching this point.
func fieldExpr(field string) string {
	return fmt.Sprintf("json_extract(value, '$.%s')", field)
}

// normalizeArg folds condition arguments into SQLite's comparison
// domain, mirroring normalizeScalar: booleans bind as 0/1.
func normalizeArg(value any) any {
	switch v := value.(type) {
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	case string:
		return v
	}
	if f, ok := numeric(value); ok {
		return f
	}
	return value
}

// translateConditions renders the WHERE clause. The returned string is
// empty when the query has no conditions.
func translateConditions(conditions []Condition) (string, []any) {
	if len(conditions) == 0 {
		return "", nil
	}

	var (
		clauses []string
		args    []any
	)
	for _, c := range conditions {
		expr := fieldExpr(c.Field)
		switch c.Operator {
		case OpEqual:
			clauses = append(clauses, expr+" = ?")
			args = append(args, normalizeArg(c.Value))
		case OpGreaterThan:
			clauses = append(clauses, expr+" > ?")
			args = append(args, normalizeArg(c.Value))
		case OpGreaterThanOrEqual:
			clauses = append(clauses, expr+" >= ?")
			args = append(args, normalizeArg(c.Value))
		case OpLessThan:
			clauses = append(clauses, expr+" < ?")
			args = append(args, normalizeArg(c.Value))
		case OpLessThanOrEqual:
			clauses = append(clauses, expr+" <= ?")
			args = append(args, normalizeArg(c.Value))
		case OpBetween:
			// Inclusive on both bounds, like the in-memory range check.
			clauses = append(clauses, expr+" BETWEEN ? AND ?")
			args = append(args, normalizeArg(c.Value), normalizeArg(c.High))
		case OpContains:
			// instr instead of LIKE: case-sensitive, no pattern
			// metacharacters. The json_type guard keeps numeric values
			// from being coerced to text and matching.
			clauses = append(clauses, fmt.Sprintf(
				"(json_type(value, '$.%s') = 'text' AND instr(%s, ?) > 0)", c.Field, expr))
			args = append(args, c.Value)
		case OpIsNull:
			clauses = append(clauses, expr+" IS NULL")
		case OpNotNull:
			clauses = append(clauses, expr+" IS NOT NULL")
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// translateOrderings renders ORDER BY with an IS NULL sort key per field
// so nulls rank last under both directions, matching the reference
// comparator.
func translateOrderings(orderings []Ordering) string {
	if len(orderings) == 0 {
		return ""
	}
	keys := make([]string, 0, len(orderings)*2)
	for _, o := range orderings {
		expr := fieldExpr(o.Field)
		dir := "ASC"
		if o.Direction == Descending {
			dir = "DESC"
		}
		keys = append(keys, fmt.Sprintf("(%s IS NULL) ASC", expr), expr+" "+dir)
	}
	return " ORDER BY " + strings.Join(keys, ", ")
}

func (e *SQLExecutor[T]) Execute(ctx context.Context, q Query) (*Result[T], error) {
	start := time.Now()
	if err := q.validate(); err != nil {
		return nil, err
	}

	db, err := e.store.DB(ctx)
	if err != nil {
		return nil, err
	}

	where, args := translateConditions(q.Conditions())
	table := e.store.Table()

	result := &Result[T]{}
	if q.HasAggregation() {
		if err := e.executeAggregation(ctx, q, result, table, where, args); err != nil {
			return nil, err
		}
	} else {
		stmt := "SELECT value FROM " + table + where + translateOrderings(q.Orderings())
		stmtArgs := args
		if q.HasPagination() {
			limit := -1
			if n, ok := q.Limit(); ok {
				limit = n
			}
			stmt += " LIMIT ? OFFSET ?"
			stmtArgs = append(append([]any(nil), args...), limit, q.Offset())
		}

		rows, err := db.QueryContext(ctx, stmt, stmtArgs...)
		if err != nil {
			return nil, storage.WrapError(storage.CodeQueryFailed, err, "engine rejected translated query")
		}
		defer rows.Close()

		for rows.Next() {
			var data string
			if err := rows.Scan(&data); err != nil {
				return nil, storage.WrapError(storage.CodeQueryFailed, err, "failed to scan result row")
			}
			var value T
			if err := json.Unmarshal([]byte(data), &value); err != nil {
				return nil, storage.WrapError(storage.CodeSerializationFailed, err, "failed to decode result row")
			}
			result.Rows = append(result.Rows, value)
		}
		if err := rows.Err(); err != nil {
			return nil, storage.WrapError(storage.CodeQueryFailed, err, "result iteration failed")
		}

		if q.HasPagination() {
			var total int
			countStmt := "SELECT COUNT(*) FROM " + table + where
			if err := db.QueryRowContext(ctx, countStmt, args...).Scan(&total); err != nil {
				return nil, storage.WrapError(storage.CodeQueryFailed, err, "failed to count matching rows")
			}
			result.Meta.TotalCount = &total
		}
	}

	result.Meta.ExecutionTime = time.Since(start)
	return result, nil
}

func (e *SQLExecutor[T]) executeAggregation(ctx context.Context, q Query, result *Result[T], table, where string, args []any) error {
	db, err := e.store.DB(ctx)
	if err != nil {
		return err
	}

	aggregations := q.Aggregations()
	groupFields := q.GroupBy()

	// sum/avg must fail closed on non-numeric values, like the reference
	// fold. SQL aggregate functions would silently coerce instead.
	for _, agg := range aggregations {
		if agg.Func != AggSum && agg.Func != AggAvg {
			continue
		}
		guard := "SELECT COUNT(*) FROM " + table + where
		if where == "" {
			guard += " WHERE "
		} else {
			guard += " AND "
		}
		guard += fmt.Sprintf(
			"%s IS NOT NULL AND json_type(value, '$.%s') NOT IN ('integer', 'real', 'true', 'false')",
			fieldExpr(agg.Field), agg.Field)
		var bad int
		if err := db.QueryRowContext(ctx, guard, args...).Scan(&bad); err != nil {
			return storage.WrapError(storage.CodeQueryFailed, err, "aggregation type check failed")
		}
		if bad > 0 {
			return queryError("%s aggregation over non-numeric value in field %q", agg.Func, agg.Field)
		}
	}

	selects := make([]string, 0, len(groupFields)+len(aggregations))
	for i, field := range groupFields {
		selects = append(selects, fmt.Sprintf("%s AS g%d", fieldExpr(field), i))
	}
	for i, agg := range aggregations {
		var expr string
		switch agg.Func {
		case AggCount:
			expr = "COUNT(*)"
		case AggSum:
			expr = "SUM(" + fieldExpr(agg.Field) + ")"
		case AggAvg:
			expr = "AVG(" + fieldExpr(agg.Field) + ")"
		case AggMin:
			expr = "MIN(" + fieldExpr(agg.Field) + ")"
		case AggMax:
			expr = "MAX(" + fieldExpr(agg.Field) + ")"
		}
		selects = append(selects, fmt.Sprintf("%s AS a%d", expr, i))
	}

	stmt := "SELECT " + strings.Join(selects, ", ") + " FROM " + table + where
	if len(groupFields) > 0 {
		groups := make([]string, len(groupFields))
		orderKeys := make([]string, 0, len(groupFields)*2)
		for i := range groupFields {
			groups[i] = fmt.Sprintf("g%d", i)
			orderKeys = append(orderKeys, fmt.Sprintf("(g%d IS NULL) ASC", i), fmt.Sprintf("g%d ASC", i))
		}
		stmt += " GROUP BY " + strings.Join(groups, ", ")
		stmt += " ORDER BY " + strings.Join(orderKeys, ", ")
	}

	stmtArgs := args
	if q.HasPagination() {
		limit := -1
		if n, ok := q.Limit(); ok {
			limit = n
		}
		stmt += " LIMIT ? OFFSET ?"
		stmtArgs = append(append([]any(nil), args...), limit, q.Offset())
	}

	rows, err := db.QueryContext(ctx, stmt, stmtArgs...)
	if err != nil {
		return storage.WrapError(storage.CodeQueryFailed, err, "engine rejected translated aggregation")
	}
	defer rows.Close()

	for rows.Next() {
		scanned := make([]any, len(groupFields)+len(aggregations))
		dests := make([]any, len(scanned))
		for i := range scanned {
			dests[i] = &scanned[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return storage.WrapError(storage.CodeQueryFailed, err, "failed to scan aggregate row")
		}

		row := AggregateRow{Values: make(map[string]any, len(aggregations))}
		if len(groupFields) > 0 {
			row.Group = make(map[string]any, len(groupFields))
			for i, field := range groupFields {
				row.Group[field] = normalizeSQLValue(scanned[i])
			}
		}
		for i, agg := range aggregations {
			value := scanned[len(groupFields)+i]
			if agg.Func == AggCount {
				row.Values[agg.Label()] = value.(int64)
				continue
			}
			row.Values[agg.Label()] = normalizeSQLValue(value)
		}
		result.Aggregates = append(result.Aggregates, row)
	}
	if err := rows.Err(); err != nil {
		return storage.WrapError(storage.CodeQueryFailed, err, "aggregate iteration failed")
	}

	if q.HasPagination() {
		total := 1
		if len(groupFields) > 0 {
			inner := "SELECT 1 FROM " + table + where + " GROUP BY "
			groups := make([]string, len(groupFields))
			for i, field := range groupFields {
				groups[i] = fieldExpr(field)
			}
			inner += strings.Join(groups, ", ")
			countStmt := "SELECT COUNT(*) FROM (" + inner + ")"
			if err := db.QueryRowContext(ctx, countStmt, args...).Scan(&total); err != nil {
				return storage.WrapError(storage.CodeQueryFailed, err, "failed to count groups")
			}
		}
		result.Meta.TotalCount = &total
	}
	return nil
}

// normalizeSQLValue folds driver scan results into the shared comparator
// domain so SQL aggregate output is comparable with the reference
// executor's.
func normalizeSQLValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		return v
	}
	return value
}
