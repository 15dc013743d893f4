package storage

import (
	"context"
	"iter"
	"sync"
)

// adapterState tracks the lifecycle of an adapter. Transitions are
// guarded so ensureLoaded is idempotent and re-entrant calls after Close
// fail instead of reopening.
type adapterState int

const (
	stateUninitialized adapterState = iota
	stateLoading
	stateReady
	stateClosed
)

type lifecycle struct {
	mu    sync.Mutex
	state adapterState
}

// ensure drives Uninitialized -> Loading -> Ready exactly once. load runs
// with the transition lock held, so concurrent first operations serialize
// on the same initialization.
func (l *lifecycle) ensure(ctx context.Context, load func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case stateReady:
		return nil
	case stateClosed:
		return NewError(CodeConnectionLost, "storage is closed")
	}

	l.state = stateLoading
	if load != nil {
		if err := load(ctx); err != nil {
			l.state = stateUninitialized
			return err
		}
	}
	l.state = stateReady
	return nil
}

// shutdown moves to Closed, running fn on the first call only.
func (l *lifecycle) shutdown(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == stateClosed {
		return nil
	}
	wasReady := l.state == stateReady
	l.state = stateClosed
	if fn != nil && wasReady {
		return fn()
	}
	return nil
}

func (l *lifecycle) ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateReady
}

// mapCore is the adapter base shared by backends whose default execution
// strategy is "load everything into a map, mutate the map, persist the
// whole map". The memory and file adapters embed it and fill in the two
// lifecycle hooks; backends with native execution (sqlite, graph)
// implement the contract directly and reuse runBatch.
type mapCore[T any] struct {
	lifecycle

	backend Backend
	mu      sync.RWMutex
	entries map[string]T

	// load populates dst from the backing medium on first use. nil means
	// the adapter starts empty.
	load func(ctx context.Context, dst map[string]T) error

	// persist writes the full entry map back after every mutation. nil
	// means the backend is purely in-process.
	persist func(ctx context.Context, entries map[string]T) error
}

func newMapCore[T any](backend Backend) mapCore[T] {
	return mapCore[T]{
		backend: backend,
		entries: make(map[string]T),
	}
}

func (c *mapCore[T]) Backend() Backend {
	return c.backend
}

func (c *mapCore[T]) ensureLoaded(ctx context.Context) error {
	return c.ensure(ctx, func(ctx context.Context) error {
		if c.load == nil {
			return nil
		}
		loaded := make(map[string]T)
		if err := c.load(ctx, loaded); err != nil {
			return err
		}
		c.entries = loaded
		return nil
	})
}

// persistLocked runs the persist hook. Callers hold the write lock, so a
// batch of mutations flushes in a single window.
func (c *mapCore[T]) persistLocked(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	return c.persist(ctx, c.entries)
}

func (c *mapCore[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	if err := ValidateKey(key); err != nil {
		return zero, err
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return zero, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.entries[key]
	if !ok {
		return zero, NewError(CodeKeyNotFound, "key %q not found", key)
	}
	return value, nil
}

func (c *mapCore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return c.persistLocked(ctx)
}

func (c *mapCore[T]) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return c.persistLocked(ctx)
}

func (c *mapCore[T]) Has(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok, nil
}

func (c *mapCore[T]) Clear(ctx context.Context) error {
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]T)
	return c.persistLocked(ctx)
}

func (c *mapCore[T]) Size(ctx context.Context) (int, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

func (c *mapCore[T]) Keys(ctx context.Context) (iter.Seq[string], error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.RUnlock()
	return seqOf(keys), nil
}

func (c *mapCore[T]) Values(ctx context.Context) (iter.Seq[T], error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	values := make([]T, 0, len(c.entries))
	for _, value := range c.entries {
		values = append(values, value)
	}
	c.mu.RUnlock()
	return seqOf(values), nil
}

func (c *mapCore[T]) Entries(ctx context.Context) (iter.Seq[Entry[T]], error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	entries := make([]Entry[T], 0, len(c.entries))
	for key, value := range c.entries {
		entries = append(entries, Entry[T]{Key: key, Value: value})
	}
	c.mu.RUnlock()
	return seqOf(entries), nil
}

func (c *mapCore[T]) GetMany(ctx context.Context, keys []string) (map[string]T, error) {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return nil, err
		}
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	found := make(map[string]T, len(keys))
	for _, key := range keys {
		if value, ok := c.entries[key]; ok {
			found[key] = value
		}
	}
	return found, nil
}

func (c *mapCore[T]) SetMany(ctx context.Context, entries map[string]T) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range entries {
		c.entries[key] = value
	}
	return c.persistLocked(ctx)
}

func (c *mapCore[T]) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return err
		}
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return c.persistLocked(ctx)
}

func (c *mapCore[T]) Batch(ctx context.Context, ops []Operation[T]) (*BatchResult, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	result, err := runBatch(ctx, ops, func(_ context.Context, op Operation[T]) error {
		switch op.Kind {
		case OpSet:
			c.entries[op.Key] = op.Value
		case OpDelete:
			delete(c.entries, op.Key)
		case OpClear:
			c.entries = make(map[string]T)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := c.persistLocked(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *mapCore[T]) Close(ctx context.Context) error {
	return c.shutdown(nil)
}

// runBatch validates every operation up front (fail-fast: invalid input
// applies nothing) and then executes sequentially, capturing per-operation
// failures without aborting the rest. This best-effort contract is
// deliberate; see BatchStorage.
func runBatch[T any](ctx context.Context, ops []Operation[T], apply func(ctx context.Context, op Operation[T]) error) (*BatchResult, error) {
	if err := validateOperations(ops); err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for i, op := range ops {
		if err := apply(ctx, op); err != nil {
			result.Errors = append(result.Errors, OpError{Index: i, Key: op.Key, Err: err})
			continue
		}
		result.Applied++
	}
	result.Success = len(result.Errors) == 0
	return result, nil
}

// seqOf adapts a snapshot slice into a lazy sequence.
func seqOf[V any](items []V) iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, item := range items {
			if !yield(item) {
				return
			}
		}
	}
}
