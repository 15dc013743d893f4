package query

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// countingExecutor counts Execute calls and returns a canned result.
type countingExecutor struct {
	calls int
	err   error
}

func (e *countingExecutor) Execute(ctx context.Context, q Query) (*Result[map[string]any], error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &Result[map[string]any]{
		Rows: []map[string]any{{"call": float64(e.calls)}},
	}, nil
}

func TestCachedExecutor_HitAndMiss(t *testing.T) {
	inner := &countingExecutor{}
	cached := NewCachedExecutor[map[string]any](inner, 10, time.Minute)
	ctx := context.Background()

	q := NewBuilder().WhereEqual("dept", "eng").Build()

	first, err := cached.Execute(ctx, q)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if first.Meta.FromCache {
		t.Error("First execution must not come from cache")
	}

	second, err := cached.Execute(ctx, q)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !second.Meta.FromCache {
		t.Error("Second execution should come from cache")
	}
	if inner.calls != 1 {
		t.Errorf("Expected 1 inner call, got %d", inner.calls)
	}
	if second.Rows[0]["call"] != float64(1) {
		t.Errorf("Cached result should carry the first execution's rows, got %v", second.Rows[0])
	}
}

func TestCachedExecutor_EquivalentBuildersShareSlot(t *testing.T) {
	inner := &countingExecutor{}
	cached := NewCachedExecutor[map[string]any](inner, 10, time.Minute)
	ctx := context.Background()

	a := NewBuilder().WhereEqual("dept", "eng").Limit(5).Build()
	b := NewBuilder().WhereEqual("dept", "eng").Limit(5).Build()

	if _, err := cached.Execute(ctx, a); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := cached.Execute(ctx, b); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("Equivalent queries should share a slot, got %d inner calls", inner.calls)
	}
}

func TestCachedExecutor_ValueTypeIsPartOfTheKey(t *testing.T) {
	inner := &countingExecutor{}
	cached := NewCachedExecutor[map[string]any](inner, 10, time.Minute)
	ctx := context.Background()

	if _, err := cached.Execute(ctx, NewBuilder().WhereEqual("age", 25).Build()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Same field, same rendering, different type: must be a fresh execution.
	result, err := cached.Execute(ctx, NewBuilder().WhereEqual("age", "25").Build())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Meta.FromCache {
		t.Error("A string-valued query must not be served the numeric query's rows")
	}
	if inner.calls != 2 {
		t.Errorf("Expected 2 inner calls, got %d", inner.calls)
	}
}

func TestCachedExecutor_DistinctQueriesMiss(t *testing.T) {
	inner := &countingExecutor{}
	cached := NewCachedExecutor[map[string]any](inner, 10, time.Minute)
	ctx := context.Background()

	if _, err := cached.Execute(ctx, NewBuilder().WhereEqual("dept", "eng").Build()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := cached.Execute(ctx, NewBuilder().WhereEqual("dept", "sales").Build()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("Expected 2 inner calls for distinct queries, got %d", inner.calls)
	}
}

func TestCachedExecutor_TTLExpiry(t *testing.T) {
	inner := &countingExecutor{}
	cached := NewCachedExecutor[map[string]any](inner, 10, 10*time.Millisecond)
	ctx := context.Background()

	q := NewBuilder().Count().Build()

	if _, err := cached.Execute(ctx, q); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	result, err := cached.Execute(ctx, q)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Meta.FromCache {
		t.Error("Expired entry must not be served")
	}
	if inner.calls != 2 {
		t.Errorf("Expected re-execution after expiry, got %d inner calls", inner.calls)
	}
}

func TestCachedExecutor_CapacityEviction(t *testing.T) {
	inner := &countingExecutor{}
	cached := NewCachedExecutor[map[string]any](inner, 2, time.Minute)
	ctx := context.Background()

	queries := make([]Query, 3)
	for i := range queries {
		queries[i] = NewBuilder().WhereEqual("dept", fmt.Sprintf("d%d", i)).Build()
	}

	// Fill, then touch q0 so q1 becomes least recent.
	for _, q := range queries[:2] {
		if _, err := cached.Execute(ctx, q); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}
	if _, err := cached.Execute(ctx, queries[0]); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Inserting q2 evicts q1.
	if _, err := cached.Execute(ctx, queries[2]); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if stats := cached.Stats(); stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction after overfilling, got %d", stats.Evictions)
	}

	result, err := cached.Execute(ctx, queries[0])
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Meta.FromCache {
		t.Error("Recently touched entry should survive eviction")
	}

	// The miss below re-inserts q1, which in turn evicts q2.
	result, err = cached.Execute(ctx, queries[1])
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Meta.FromCache {
		t.Error("Least recently used entry should have been evicted")
	}

	stats := cached.Stats()
	if stats.Evictions != 2 {
		t.Errorf("Expected 2 evictions, got %d", stats.Evictions)
	}
	if stats.Size > 2 {
		t.Errorf("Cache exceeded capacity: size %d", stats.Size)
	}
}

func TestCachedExecutor_ErrorsAreNotCached(t *testing.T) {
	inner := &countingExecutor{err: fmt.Errorf("backend down")}
	cached := NewCachedExecutor[map[string]any](inner, 10, time.Minute)
	ctx := context.Background()

	q := NewBuilder().Build()
	for i := 0; i < 2; i++ {
		if _, err := cached.Execute(ctx, q); err == nil {
			t.Fatal("Expected error from inner executor")
		}
	}
	if inner.calls != 2 {
		t.Errorf("Errors must not be cached, got %d inner calls", inner.calls)
	}
}

func TestCachedExecutor_Invalidate(t *testing.T) {
	inner := &countingExecutor{}
	cached := NewCachedExecutor[map[string]any](inner, 10, time.Minute)
	ctx := context.Background()

	q := NewBuilder().Count().Build()
	if _, err := cached.Execute(ctx, q); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := cached.Execute(ctx, q); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	cached.Invalidate()

	result, err := cached.Execute(ctx, q)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Meta.FromCache {
		t.Error("Invalidate must drop all entries")
	}
	if inner.calls != 2 {
		t.Errorf("Expected 2 inner calls, got %d", inner.calls)
	}

	stats := cached.Stats()
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("Statistics must survive Invalidate: hits=%d misses=%d", stats.Hits, stats.Misses)
	}
}

func TestCachedExecutor_Stats(t *testing.T) {
	inner := &countingExecutor{}
	cached := NewCachedExecutor[map[string]any](inner, 10, time.Minute)
	ctx := context.Background()

	q := NewBuilder().Build()
	for i := 0; i < 4; i++ {
		if _, err := cached.Execute(ctx, q); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}

	stats := cached.Stats()
	if stats.Hits != 3 || stats.Misses != 1 {
		t.Errorf("Expected 3 hits / 1 miss, got %d/%d", stats.Hits, stats.Misses)
	}
	if stats.HitRatio != 0.75 {
		t.Errorf("Expected hit ratio 0.75, got %f", stats.HitRatio)
	}
	if stats.Capacity != 10 || stats.Size != 1 {
		t.Errorf("Unexpected capacity/size: %d/%d", stats.Capacity, stats.Size)
	}
}
