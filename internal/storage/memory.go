package storage

import "context"

// MemoryConfig configures the in-memory adapter.
type MemoryConfig struct {
	ID    string
	Debug bool
}

// MemoryStorage keeps all entries in the process heap. Both lifecycle
// hooks are no-ops; it is the reference adapter whose results define
// correctness for cross-backend comparison.
type MemoryStorage[T any] struct {
	mapCore[T]
	id string
}

var _ BatchStorage[any] = (*MemoryStorage[any])(nil)

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage[T any](cfg MemoryConfig) *MemoryStorage[T] {
	return &MemoryStorage[T]{
		mapCore: newMapCore[T](BackendMemory),
		id:      cfg.ID,
	}
}

// ID returns the configured instance identifier.
func (s *MemoryStorage[T]) ID() string {
	return s.id
}

func (s *MemoryStorage[T]) Close(ctx context.Context) error {
	return s.shutdown(nil)
}
