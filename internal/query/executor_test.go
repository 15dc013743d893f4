package query_test

import (
	"context"
	"reflect"
	"sort"
	"testing"

	"polystore/internal/query"
	"polystore/internal/storage"
	"polystore/internal/testutil"
)

// Every backend must produce the same logical result for the same query
// over the same dataset. The suite runs each query against all four
// adapters loaded with the people fixture and compares outcomes.

func execOn(t *testing.T, backend storage.Backend, q query.Query) *query.Result[testutil.Document] {
	t.Helper()

	store := testutil.OpenStorage(t, backend)
	testutil.PopulatePeople(t, store)

	result, err := query.ExecutorFor[testutil.Document](store).Execute(context.Background(), q)
	if err != nil {
		t.Fatalf("Execute on %s failed: %v", backend, err)
	}
	return result
}

func rowNames(result *query.Result[testutil.Document]) []string {
	names := make([]string, len(result.Rows))
	for i, row := range result.Rows {
		names[i] = row["name"].(string)
	}
	return names
}

func sortedRowNames(result *query.Result[testutil.Document]) []string {
	names := rowNames(result)
	sort.Strings(names)
	return names
}

func TestExecutors_FilterEquivalence(t *testing.T) {
	tests := []struct {
		name  string
		query query.Query
		want  int
	}{
		{
			name:  "equality on string",
			query: query.NewBuilder().WhereEqual("dept", "eng").Build(),
			want:  5,
		},
		{
			name:  "greater than",
			query: query.NewBuilder().WhereGreaterThan("age", 30).Build(),
			want:  10,
		},
		{
			name:  "between is inclusive on both bounds",
			query: query.NewBuilder().WhereBetween("age", 25, 30).Build(),
			want:  6,
		},
		{
			name:  "contains is case-sensitive",
			query: query.NewBuilder().WhereContains("name", "person-1").Build(),
			want:  10,
		},
		{
			name:  "contains with wrong case",
			query: query.NewBuilder().WhereContains("name", "PERSON").Build(),
			want:  0,
		},
		{
			name:  "boolean equality",
			query: query.NewBuilder().WhereEqual("active", true).Build(),
			want:  10,
		},
		{
			name:  "null matches absent and explicit null",
			query: query.NewBuilder().WhereNull("nickname").Build(),
			want:  20,
		},
		{
			name:  "not null on explicit-null field",
			query: query.NewBuilder().WhereNotNull("nickname").Build(),
			want:  0,
		},
		{
			// eng holds ages 21, 25, 29, 33, 37: two are >= 30.
			name:  "conjunction of conditions",
			query: query.NewBuilder().WhereEqual("dept", "eng").WhereGreaterThanOrEqual("age", 30).Build(),
			want:  2,
		},
		{
			name:  "no conditions matches everything",
			query: query.NewBuilder().Build(),
			want:  20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reference := execOn(t, storage.BackendMemory, tt.query)
			if len(reference.Rows) != tt.want {
				t.Fatalf("Reference returned %d rows, want %d", len(reference.Rows), tt.want)
			}
			wantNames := sortedRowNames(reference)

			for _, backend := range testutil.Backends[1:] {
				t.Run(string(backend), func(t *testing.T) {
					result := execOn(t, backend, tt.query)
					if got := sortedRowNames(result); !reflect.DeepEqual(got, wantNames) {
						t.Errorf("Row mismatch on %s:\n got %v\nwant %v", backend, got, wantNames)
					}
				})
			}
		})
	}
}

func TestExecutors_OrderingAndPagination(t *testing.T) {
	// Ages are the distinct values 21..40, so descending order with
	// offset 5 and limit 10 selects exactly ages 35 down to 26.
	q := query.NewBuilder().
		OrderBy("age", query.Descending).
		Limit(10).
		Offset(5).
		Build()

	wantAges := []float64{35, 34, 33, 32, 31, 30, 29, 28, 27, 26}

	for _, backend := range testutil.Backends {
		t.Run(string(backend), func(t *testing.T) {
			result := execOn(t, backend, q)

			if len(result.Rows) != len(wantAges) {
				t.Fatalf("Expected %d rows, got %d", len(wantAges), len(result.Rows))
			}
			for i, row := range result.Rows {
				if row["age"] != wantAges[i] {
					t.Errorf("Row %d: expected age %v, got %v", i, wantAges[i], row["age"])
				}
			}

			if result.Meta.TotalCount == nil {
				t.Fatal("Expected TotalCount with pagination")
			}
			if *result.Meta.TotalCount != 20 {
				t.Errorf("Expected TotalCount 20, got %d", *result.Meta.TotalCount)
			}
		})
	}
}

func TestExecutors_OffsetBeyondDataset(t *testing.T) {
	q := query.NewBuilder().OrderBy("age", query.Ascending).Offset(100).Build()

	for _, backend := range testutil.Backends {
		t.Run(string(backend), func(t *testing.T) {
			result := execOn(t, backend, q)
			if len(result.Rows) != 0 {
				t.Errorf("Expected no rows past the dataset, got %d", len(result.Rows))
			}
		})
	}
}

func TestExecutors_MultiKeyOrdering(t *testing.T) {
	q := query.NewBuilder().
		OrderBy("dept", query.Ascending).
		OrderBy("age", query.Descending).
		Build()

	for _, backend := range testutil.Backends {
		t.Run(string(backend), func(t *testing.T) {
			result := execOn(t, backend, q)
			if len(result.Rows) != 20 {
				t.Fatalf("Expected 20 rows, got %d", len(result.Rows))
			}

			for i := 1; i < len(result.Rows); i++ {
				prev, cur := result.Rows[i-1], result.Rows[i]
				pd, cd := prev["dept"].(string), cur["dept"].(string)
				if pd > cd {
					t.Fatalf("Rows %d/%d out of dept order: %s > %s", i-1, i, pd, cd)
				}
				if pd == cd && prev["age"].(float64) < cur["age"].(float64) {
					t.Fatalf("Rows %d/%d out of age order within dept %s", i-1, i, pd)
				}
			}
		})
	}
}

func TestExecutors_Aggregation(t *testing.T) {
	// Ages 21..40: sum 610, avg 30.5.
	q := query.NewBuilder().Count().Sum("age").Avg("age").Min("age").Max("age").Build()

	want := map[string]any{
		"count":    int64(20),
		"sum(age)": float64(610),
		"avg(age)": float64(30.5),
		"min(age)": float64(21),
		"max(age)": float64(40),
	}

	for _, backend := range testutil.Backends {
		t.Run(string(backend), func(t *testing.T) {
			result := execOn(t, backend, q)

			if len(result.Aggregates) != 1 {
				t.Fatalf("Expected one aggregate row, got %d", len(result.Aggregates))
			}
			if !reflect.DeepEqual(result.Aggregates[0].Values, want) {
				t.Errorf("Aggregate mismatch:\n got %v\nwant %v", result.Aggregates[0].Values, want)
			}
		})
	}
}

func TestExecutors_GroupedAggregation(t *testing.T) {
	q := query.NewBuilder().GroupBy("dept").Count().Avg("age").Build()

	for _, backend := range testutil.Backends {
		t.Run(string(backend), func(t *testing.T) {
			result := execOn(t, backend, q)

			if len(result.Aggregates) != 4 {
				t.Fatalf("Expected 4 groups, got %d", len(result.Aggregates))
			}

			// Groups come back ordered by their key.
			wantOrder := []string{"eng", "hr", "ops", "sales"}
			for i, row := range result.Aggregates {
				if row.Group["dept"] != wantOrder[i] {
					t.Errorf("Group %d: expected %s, got %v", i, wantOrder[i], row.Group["dept"])
				}
				if row.Values["count"] != int64(5) {
					t.Errorf("Group %v: expected count 5, got %v", row.Group, row.Values["count"])
				}
			}
		})
	}
}

func TestExecutors_GroupedAggregationEquivalence(t *testing.T) {
	q := query.NewBuilder().WhereGreaterThan("age", 25).GroupBy("dept").Count().Sum("age").Build()

	reference := execOn(t, storage.BackendMemory, q)
	for _, backend := range testutil.Backends[1:] {
		t.Run(string(backend), func(t *testing.T) {
			result := execOn(t, backend, q)
			if !reflect.DeepEqual(result.Aggregates, reference.Aggregates) {
				t.Errorf("Aggregate mismatch on %s:\n got %v\nwant %v", backend, result.Aggregates, reference.Aggregates)
			}
		})
	}
}

func TestExecutors_SumOverNonNumericFails(t *testing.T) {
	q := query.NewBuilder().Sum("name").Build()

	for _, backend := range testutil.Backends {
		t.Run(string(backend), func(t *testing.T) {
			store := testutil.OpenStorage(t, backend)
			testutil.PopulatePeople(t, store)

			_, err := query.ExecutorFor[testutil.Document](store).Execute(context.Background(), q)
			testutil.AssertErrorCode(t, err, storage.CodeQueryFailed)
		})
	}
}

func TestExecutors_CountOnEmptyStore(t *testing.T) {
	q := query.NewBuilder().Count().Build()

	for _, backend := range testutil.Backends {
		t.Run(string(backend), func(t *testing.T) {
			store := testutil.OpenStorage(t, backend)

			result, err := query.ExecutorFor[testutil.Document](store).Execute(context.Background(), q)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if len(result.Aggregates) != 1 {
				t.Fatalf("Expected one aggregate row, got %d", len(result.Aggregates))
			}
			if result.Aggregates[0].Values["count"] != int64(0) {
				t.Errorf("Expected count 0, got %v", result.Aggregates[0].Values["count"])
			}
		})
	}
}

func TestExecutors_MalformedQueryFailsClosed(t *testing.T) {
	q := query.NewBuilder().WhereEqual("age'; --", 30).Build()

	for _, backend := range testutil.Backends {
		t.Run(string(backend), func(t *testing.T) {
			store := testutil.OpenStorage(t, backend)
			testutil.PopulatePeople(t, store)

			_, err := query.ExecutorFor[testutil.Document](store).Execute(context.Background(), q)
			testutil.AssertErrorCode(t, err, storage.CodeQueryFailed)
		})
	}
}

func TestExecutors_NullsOrderLastBothDirections(t *testing.T) {
	// score is present on only some documents; the rest must sink to the
	// bottom whichever way the sort runs.
	load := func(t *testing.T, backend storage.Backend) storage.BatchStorage[testutil.Document] {
		store := testutil.OpenStorage(t, backend)
		entries := map[string]testutil.Document{
			"a": {"name": "a", "score": float64(3)},
			"b": {"name": "b"},
			"c": {"name": "c", "score": float64(1)},
			"d": {"name": "d", "score": nil},
			"e": {"name": "e", "score": float64(2)},
		}
		if err := store.SetMany(context.Background(), entries); err != nil {
			t.Fatalf("SetMany failed: %v", err)
		}
		return store
	}

	for _, direction := range []query.Direction{query.Ascending, query.Descending} {
		q := query.NewBuilder().OrderBy("score", direction).Build()
		for _, backend := range testutil.Backends {
			t.Run(string(direction)+"/"+string(backend), func(t *testing.T) {
				store := load(t, backend)
				result, err := query.ExecutorFor[testutil.Document](store).Execute(context.Background(), q)
				if err != nil {
					t.Fatalf("Execute failed: %v", err)
				}
				if len(result.Rows) != 5 {
					t.Fatalf("Expected 5 rows, got %d", len(result.Rows))
				}

				nullNames := map[string]bool{"b": true, "d": true}
				for _, row := range result.Rows[3:] {
					if !nullNames[row["name"].(string)] {
						t.Errorf("Expected null scores last, got %v in tail", row["name"])
					}
				}

				scored := []float64{
					result.Rows[0]["score"].(float64),
					result.Rows[1]["score"].(float64),
					result.Rows[2]["score"].(float64),
				}
				want := []float64{1, 2, 3}
				if direction == query.Descending {
					want = []float64{3, 2, 1}
				}
				if !reflect.DeepEqual(scored, want) {
					t.Errorf("Expected scores %v, got %v", want, scored)
				}
			})
		}
	}
}

func TestExecutorFor_SelectsSQLTranslation(t *testing.T) {
	sqlStore := testutil.OpenStorage(t, storage.BackendSQL)
	if _, ok := query.ExecutorFor[testutil.Document](sqlStore).(*query.SQLExecutor[testutil.Document]); !ok {
		t.Error("Expected the SQL backend to get the translating executor")
	}

	memStore := testutil.OpenStorage(t, storage.BackendMemory)
	if _, ok := query.ExecutorFor[testutil.Document](memStore).(*query.MemoryExecutor[testutil.Document]); !ok {
		t.Error("Expected the memory backend to get the replaying executor")
	}
}
