// Package storage provides a pluggable key-value storage abstraction with
// four backends: an in-memory map, an atomic-write JSON file store, an
// embedded SQLite engine, and a BadgerDB-backed graph engine.
//
// All backends honor the same Storage contract with observably equivalent
// results; they differ only in how operations execute. Query execution on
// top of these adapters lives in the query package.
package storage

import (
	"context"
	"iter"
)

// Backend tags one adapter family. Query executors are selected by this
// tag at construction time, never by inspecting the concrete type.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendSQL    Backend = "sqlite"
	BackendGraph  Backend = "graph"
)

// Entry is a single key-value pair.
type Entry[T any] struct {
	Key   string
	Value T
}

// OpKind discriminates batch operation variants.
type OpKind string

const (
	OpSet    OpKind = "set"
	OpDelete OpKind = "delete"
	OpClear  OpKind = "clear"
)

// Operation is one action inside a batch.
type Operation[T any] struct {
	Kind  OpKind
	Key   string
	Value T
}

// SetOp builds a set operation.
func SetOp[T any](key string, value T) Operation[T] {
	return Operation[T]{Kind: OpSet, Key: key, Value: value}
}

// DeleteOp builds a delete operation.
func DeleteOp[T any](key string) Operation[T] {
	return Operation[T]{Kind: OpDelete, Key: key}
}

// ClearOp builds a clear operation.
func ClearOp[T any]() Operation[T] {
	return Operation[T]{Kind: OpClear}
}

// OpError records the failure of a single batch operation.
type OpError struct {
	Index int    `json:"index"`
	Key   string `json:"key,omitempty"`
	Err   error  `json:"error"`
}

// BatchResult reports the outcome of a batch. Success holds exactly when
// Errors is empty, and Applied counts only operations that actually took
// effect, not operations that were attempted.
type BatchResult struct {
	Success bool      `json:"success"`
	Applied int       `json:"operations"`
	Errors  []OpError `json:"errors,omitempty"`
}

// Storage is the contract every adapter implements.
//
// Keys(), Values() and Entries() return lazy single-pass sequences over a
// point-in-time snapshot taken when the method is called; mutations made
// while a sequence is being consumed are invisible to it. A fresh snapshot
// requires a fresh call.
type Storage[T any] interface {
	// Backend returns the adapter family tag.
	Backend() Backend

	// Get returns the value stored under key, or a key_not_found error.
	Get(ctx context.Context, key string) (T, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value T) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Has reports whether key exists.
	Has(ctx context.Context, key string) (bool, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Size returns the number of entries.
	Size(ctx context.Context) (int, error)

	Keys(ctx context.Context) (iter.Seq[string], error)
	Values(ctx context.Context) (iter.Seq[T], error)
	Entries(ctx context.Context) (iter.Seq[Entry[T]], error)

	// Close tears the adapter down. Further operations fail with
	// connection_lost.
	Close(ctx context.Context) error
}

// BatchStorage extends Storage with multi-entry operations.
//
// SetMany and Batch validate every entry before applying any of them:
// malformed input applies zero operations. Once execution begins, Batch is
// best-effort: a failure on one operation is captured in the result and
// execution continues with the next operation. It is not transactional.
type BatchStorage[T any] interface {
	Storage[T]

	// GetMany returns the subset of keys that exist. Missing keys are
	// simply absent from the result, not errors.
	GetMany(ctx context.Context, keys []string) (map[string]T, error)

	// SetMany stores all entries. Validation is all-or-nothing.
	SetMany(ctx context.Context, entries map[string]T) error

	// DeleteMany removes all given keys.
	DeleteMany(ctx context.Context, keys []string) error

	// Batch executes operations sequentially with per-operation error
	// capture.
	Batch(ctx context.Context, ops []Operation[T]) (*BatchResult, error)
}
