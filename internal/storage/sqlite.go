package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"regexp"

	_ "modernc.org/sqlite"
)

// SQLConfig configures the SQLite-backed adapter.
type SQLConfig struct {
	ID        string
	Database  string // file path, or ":memory:" for an in-memory database
	TableName string // default "storage"
	// Threads caps idle pooled connections kept open for reuse.
	Threads  int
	PoolSize int // max open connections; ":memory:" forces 1
	// AutoCreate creates the database file when missing.
	AutoCreate bool
}

// DefaultSQLConfig returns SQLite adapter settings with auto-create and a
// small read pool.
func DefaultSQLConfig(database string) SQLConfig {
	return SQLConfig{
		Database:   database,
		TableName:  "storage",
		PoolSize:   4,
		AutoCreate: true,
	}
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStorage maps the key-value contract onto a two-column table
// (key TEXT PRIMARY KEY, value TEXT holding JSON). Unlike the map-backed
// adapters, queries against this backend are translated to SQL and pushed
// into the engine; see the query package.
type SQLStorage[T any] struct {
	lifecycle
	cfg SQLConfig
	db  *sql.DB
}

var _ BatchStorage[any] = (*SQLStorage[any])(nil)

// NewSQLStorage creates a SQLite-backed store. The database is opened on
// the first operation.
func NewSQLStorage[T any](cfg SQLConfig) (*SQLStorage[T], error) {
	if cfg.Database == "" {
		return nil, NewError(CodeInvalidValue, "sql storage requires a database location")
	}
	if cfg.TableName == "" {
		cfg.TableName = "storage"
	}
	if !tableNamePattern.MatchString(cfg.TableName) {
		return nil, NewError(CodeInvalidValue, "invalid table name %q", cfg.TableName)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	return &SQLStorage[T]{cfg: cfg}, nil
}

func (s *SQLStorage[T]) Backend() Backend {
	return BackendSQL
}

func (s *SQLStorage[T]) ensureLoaded(ctx context.Context) error {
	return s.ensure(ctx, func(ctx context.Context) error {
		if s.cfg.Database != ":memory:" && !s.cfg.AutoCreate {
			if _, err := os.Stat(s.cfg.Database); errors.Is(err, fs.ErrNotExist) {
				return WrapError(CodeConnectionFailed, err, "database %q does not exist", s.cfg.Database)
			}
		}

		db, err := sql.Open("sqlite", s.cfg.Database)
		if err != nil {
			return WrapError(CodeConnectionFailed, err, "failed to open sqlite database %q", s.cfg.Database)
		}

		if s.cfg.Database == ":memory:" {
			// Each pooled connection would otherwise get its own empty
			// in-memory database.
			db.SetMaxOpenConns(1)
		} else {
			db.SetMaxOpenConns(s.cfg.PoolSize)
			if s.cfg.Threads > 0 {
				db.SetMaxIdleConns(s.cfg.Threads)
			}
		}

		// WAL mode for concurrent read throughput.
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return WrapError(CodeConnectionFailed, err, "failed to enable WAL mode")
		}

		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`, s.cfg.TableName)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return WrapError(CodeConnectionFailed, err, "failed to create table %q", s.cfg.TableName)
		}

		s.db = db
		return nil
	})
}

func (s *SQLStorage[T]) encode(value T) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", WrapError(CodeSerializationFailed, err, "failed to encode value")
	}
	return string(data), nil
}

func (s *SQLStorage[T]) decode(data string) (T, error) {
	var value T
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return value, WrapError(CodeSerializationFailed, err, "failed to decode stored value")
	}
	return value, nil
}

func (s *SQLStorage[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	if err := ValidateKey(key); err != nil {
		return zero, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return zero, err
	}

	var data string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", s.cfg.TableName)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, NewError(CodeKeyNotFound, "key %q not found", key)
	}
	if err != nil {
		return zero, WrapError(CodeIOError, err, "failed to read key %q", key)
	}
	return s.decode(data)
}

func (s *SQLStorage[T]) Set(ctx context.Context, key string, value T) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	data, err := s.encode(value)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, s.cfg.TableName)
	if _, err := s.db.ExecContext(ctx, query, key, data); err != nil {
		return WrapError(CodeWriteFailed, err, "failed to write key %q", key)
	}
	return nil
}

func (s *SQLStorage[T]) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", s.cfg.TableName)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return WrapError(CodeDeleteFailed, err, "failed to delete key %q", key)
	}
	return nil
}

func (s *SQLStorage[T]) Has(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return false, err
	}

	var one int
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE key = ?", s.cfg.TableName)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, WrapError(CodeIOError, err, "failed to check key %q", key)
	}
	return true, nil
}

func (s *SQLStorage[T]) Clear(ctx context.Context) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s", s.cfg.TableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return WrapError(CodeDeleteFailed, err, "failed to clear table %q", s.cfg.TableName)
	}
	return nil
}

func (s *SQLStorage[T]) Size(ctx context.Context) (int, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.cfg.TableName)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, WrapError(CodeIOError, err, "failed to count entries")
	}
	return count, nil
}

// snapshot reads all rows at the moment of the call; the returned slices
// back the lazy iteration sequences.
func (s *SQLStorage[T]) snapshot(ctx context.Context) ([]Entry[T], error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT key, value FROM %s", s.cfg.TableName)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, WrapError(CodeIOError, err, "failed to scan table %q", s.cfg.TableName)
	}
	defer rows.Close()

	var entries []Entry[T]
	for rows.Next() {
		var (
			key  string
			data string
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, WrapError(CodeIOError, err, "failed to scan row")
		}
		value, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry[T]{Key: key, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(CodeIOError, err, "row iteration failed")
	}
	return entries, nil
}

func (s *SQLStorage[T]) Keys(ctx context.Context) (iter.Seq[string], error) {
	entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return seqOf(keys), nil
}

func (s *SQLStorage[T]) Values(ctx context.Context) (iter.Seq[T], error) {
	entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	values := make([]T, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return seqOf(values), nil
}

func (s *SQLStorage[T]) Entries(ctx context.Context) (iter.Seq[Entry[T]], error) {
	entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return seqOf(entries), nil
}

func (s *SQLStorage[T]) GetMany(ctx context.Context, keys []string) (map[string]T, error) {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return nil, err
		}
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	found := make(map[string]T, len(keys))
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", s.cfg.TableName)
	for _, key := range keys {
		var data string
		err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, WrapError(CodeIOError, err, "failed to read key %q", key)
		}
		value, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		found[key] = value
	}
	return found, nil
}

func (s *SQLStorage[T]) SetMany(ctx context.Context, entries map[string]T) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError(CodeWriteFailed, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, s.cfg.TableName)
	for key, value := range entries {
		data, err := s.encode(value)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, key, data); err != nil {
			return WrapError(CodeWriteFailed, err, "failed to write key %q", key)
		}
	}
	if err := tx.Commit(); err != nil {
		return WrapError(CodeWriteFailed, err, "failed to commit writes")
	}
	return nil
}

func (s *SQLStorage[T]) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return err
		}
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError(CodeDeleteFailed, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", s.cfg.TableName)
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, query, key); err != nil {
			return WrapError(CodeDeleteFailed, err, "failed to delete key %q", key)
		}
	}
	if err := tx.Commit(); err != nil {
		return WrapError(CodeDeleteFailed, err, "failed to commit deletes")
	}
	return nil
}

func (s *SQLStorage[T]) Batch(ctx context.Context, ops []Operation[T]) (*BatchResult, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return runBatch(ctx, ops, func(ctx context.Context, op Operation[T]) error {
		switch op.Kind {
		case OpSet:
			return s.Set(ctx, op.Key, op.Value)
		case OpDelete:
			return s.Delete(ctx, op.Key)
		case OpClear:
			return s.Clear(ctx)
		}
		return nil
	})
}

// DB exposes the underlying pool for the SQL query executor.
func (s *SQLStorage[T]) DB(ctx context.Context) (*sql.DB, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.db, nil
}

// Table returns the configured table name.
func (s *SQLStorage[T]) Table() string {
	return s.cfg.TableName
}

func (s *SQLStorage[T]) Close(ctx context.Context) error {
	return s.shutdown(func() error {
		if s.db == nil {
			return nil
		}
		if err := s.db.Close(); err != nil {
			return WrapError(CodeIOError, err, "failed to close database")
		}
		return nil
	})
}
