package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"polystore/internal/storage"
)

// MemoryExecutor replays a query over a point-in-time snapshot of any
// adapter's values: conditions become sequential predicate filters,
// ordering a stable multi-key sort, pagination a slice, aggregation a
// fold. It is the reference implementation whose output defines correct
// results for the other executors.
type MemoryExecutor[T any] struct {
	src storage.Storage[T]
}

var _ Executor[any] = (*MemoryExecutor[any])(nil)

// NewMemoryExecutor creates an executor replaying queries in memory.
func NewMemoryExecutor[T any](src storage.Storage[T]) *MemoryExecutor[T] {
	return &MemoryExecutor[T]{src: src}
}

type memRow[T any] struct {
	value T
	doc   map[string]any
}

func (e *MemoryExecutor[T]) Execute(ctx context.Context, q Query) (*Result[T], error) {
	start := time.Now()
	if err := q.validate(); err != nil {
		return nil, err
	}

	values, err := e.src.Values(ctx)
	if err != nil {
		return nil, err
	}

	conditions := q.Conditions()
	var rows []memRow[T]
	for value := range values {
		doc := toDocument(value)
		keep := true
		for _, c := range conditions {
			if !matches(doc, c) {
				keep = false
				break
			}
		}
		if keep {
			rows = append(rows, memRow[T]{value: value, doc: doc})
		}
	}

	result := &Result[T]{}

	if q.HasAggregation() {
		docs := make([]map[string]any, len(rows))
		for i, r := range rows {
			docs[i] = r.doc
		}
		aggregates, err := aggregateDocs(q, docs)
		if err != nil {
			return nil, err
		}
		total := len(aggregates)
		aggregates = paginateSlice(q, aggregates)
		result.Aggregates = aggregates
		if q.HasPagination() {
			result.Meta.TotalCount = &total
		}
	} else {
		sortRows(q.Orderings(), rows)
		total := len(rows)
		rows = paginateSlice(q, rows)
		result.Rows = make([]T, len(rows))
		for i, r := range rows {
			result.Rows[i] = r.value
		}
		if q.HasPagination() {
			result.Meta.TotalCount = &total
		}
	}

	result.Meta.ExecutionTime = time.Since(start)
	return result, nil
}

// sortRows performs the stable multi-key sort. Null and missing fields
// rank last under both directions, after every non-null value.
func sortRows[T any](orderings []Ordering, rows []memRow[T]) {
	if len(orderings) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orderings {
			av, aok := fieldValue(rows[i].doc, o.Field)
			bv, bok := fieldValue(rows[j].doc, o.Field)
			aNull := !aok || av == nil
			bNull := !bok || bv == nil
			switch {
			case aNull && bNull:
				continue
			case aNull:
				return false
			case bNull:
				return true
			}
			cmp := compareValues(normalizeScalar(av), normalizeScalar(bv))
			if cmp == 0 {
				continue
			}
			if o.Direction == Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// paginateSlice applies offset then limit, after filtering, ordering and
// grouping.
func paginateSlice[V any](q Query, items []V) []V {
	offset := q.Offset()
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit, ok := q.Limit(); ok && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// aggregateDocs partitions the filtered documents by the group-by key
// and folds each partition. Groups are ordered by their key tuple so
// aggregate output is deterministic across backends.
func aggregateDocs(q Query, docs []map[string]any) ([]AggregateRow, error) {
	groupFields := q.GroupBy()
	aggregations := q.Aggregations()

	type partition struct {
		key  []any
		docs []map[string]any
		row  AggregateRow
	}
	var order []string
	partitions := make(map[string]*partition)

	for _, doc := range docs {
		key := make([]any, len(groupFields))
		var id string
		for i, field := range groupFields {
			if value, ok := fieldValue(doc, field); ok {
				key[i] = normalizeScalar(value)
			}
			id += fmt.Sprintf("%T:%v\x1f", key[i], key[i])
		}
		p, ok := partitions[id]
		if !ok {
			p = &partition{key: key}
			partitions[id] = p
			order = append(order, id)
		}
		p.docs = append(p.docs, doc)
	}
	if len(groupFields) == 0 && len(partitions) == 0 {
		// An empty dataset still yields one aggregate row (count 0).
		partitions[""] = &partition{}
		order = append(order, "")
	}

	groups := make([]*partition, 0, len(partitions))
	for _, id := range order {
		p := partitions[id]
		p.row = AggregateRow{Values: make(map[string]any, len(aggregations))}
		if len(groupFields) > 0 {
			p.row.Group = make(map[string]any, len(groupFields))
			for i, field := range groupFields {
				p.row.Group[field] = p.key[i]
			}
		}
		for _, agg := range aggregations {
			value, err := foldAggregate(agg, p.docs)
			if err != nil {
				return nil, err
			}
			p.row.Values[agg.Label()] = value
		}
		groups = append(groups, p)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return lessKeyTuple(groups[i].key, groups[j].key)
	})
	rows := make([]AggregateRow, len(groups))
	for i, p := range groups {
		rows[i] = p.row
	}
	return rows, nil
}

// lessKeyTuple orders group keys element-wise with nulls last.
func lessKeyTuple(a, b []any) bool {
	for i := range a {
		switch {
		case a[i] == nil && b[i] == nil:
			continue
		case a[i] == nil:
			return false
		case b[i] == nil:
			return true
		}
		cmp := compareValues(a[i], b[i])
		if cmp != 0 {
			return cmp < 0
		}
	}
	return false
}

func foldAggregate(agg Aggregation, docs []map[string]any) (any, error) {
	if agg.Func == AggCount {
		return int64(len(docs)), nil
	}

	var (
		sum     float64
		numSeen int
		extreme any
	)
	for _, doc := range docs {
		value, ok := fieldValue(doc, agg.Field)
		if !ok || value == nil {
			continue
		}
		v := normalizeScalar(value)

		switch agg.Func {
		case AggSum, AggAvg:
			f, ok := numeric(v)
			if !ok {
				return nil, queryError("%s aggregation over non-numeric value in field %q", agg.Func, agg.Field)
			}
			sum += f
			numSeen++
		case AggMin:
			if extreme == nil || compareValues(v, extreme) < 0 {
				extreme = v
			}
		case AggMax:
			if extreme == nil || compareValues(v, extreme) > 0 {
				extreme = v
			}
		}
	}

	switch agg.Func {
	case AggSum:
		if numSeen == 0 {
			return nil, nil
		}
		return sum, nil
	case AggAvg:
		if numSeen == 0 {
			return nil, nil
		}
		return sum / float64(numSeen), nil
	default:
		return extreme, nil
	}
}
