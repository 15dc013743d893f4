package query

import (
	"context"
	"time"

	"polystore/internal/storage"
)

// Metadata describes how a result was produced.
type Metadata struct {
	ExecutionTime time.Duration `json:"execution_time"`
	FromCache     bool          `json:"from_cache"`
	// TotalCount is the number of matching rows before pagination; set
	// only when the query paginates.
	TotalCount *int `json:"total_count,omitempty"`
}

// AggregateRow is one output row of an aggregating query. Group holds
// the group-by field values (empty without group-by) and Values the
// aggregates keyed by Aggregation.Label.
type AggregateRow struct {
	Group  map[string]any `json:"group,omitempty"`
	Values map[string]any `json:"values"`
}

// Result is the normalized result envelope. Exactly one of Rows and
// Aggregates is populated, depending on whether the query aggregates.
type Result[T any] struct {
	Rows       []T            `json:"rows,omitempty"`
	Aggregates []AggregateRow `json:"aggregates,omitempty"`
	Meta       Metadata       `json:"metadata"`
}

// Executor runs queries against one backend family.
type Executor[T any] interface {
	Execute(ctx context.Context, q Query) (*Result[T], error)
}

// ExecutorFor selects the executor matching the adapter's backend tag.
// SQLite gets native translation; every other backend replays the query
// in memory over a snapshot.
func ExecutorFor[T any](st storage.Storage[T]) Executor[T] {
	if st.Backend() == storage.BackendSQL {
		if sqlStore, ok := st.(*storage.SQLStorage[T]); ok {
			return NewSQLExecutor(sqlStore)
		}
	}
	return NewMemoryExecutor(st)
}
