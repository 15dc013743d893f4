package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileConfig configures the file-backed adapter.
type FileConfig struct {
	ID       string
	FilePath string
	Encoding string // only "json" is supported
	Pretty   bool
	Atomic   bool // write via temp file + rename
	AutoSave bool // persist after every mutation; false defers to Flush/Close
	// AutoCreate starts an empty store when the file does not exist yet.
	AutoCreate bool
}

// DefaultFileConfig returns the recommended file adapter settings: atomic
// writes, autosave, auto-create.
func DefaultFileConfig(path string) FileConfig {
	return FileConfig{
		FilePath:   path,
		Encoding:   "json",
		Atomic:     true,
		AutoSave:   true,
		AutoCreate: true,
	}
}

// FileStorage persists the full key-value map as one JSON document. It
// trades query performance for simplicity and durability: reads load the
// whole document, writes serialize it back, optionally through an atomic
// temp-file-and-rename so readers never observe a torn file.
type FileStorage[T any] struct {
	mapCore[T]
	cfg   FileConfig
	dirty bool // guarded by mapCore.mu, only meaningful when !AutoSave
}

var _ BatchStorage[any] = (*FileStorage[any])(nil)

// renameFile swaps the temp file into place; a seam so tests can fail
// the swap and check that the previous file survives.
var renameFile = os.Rename

// NewFileStorage creates a file-backed store. The file is not touched
// until the first operation.
func NewFileStorage[T any](cfg FileConfig) (*FileStorage[T], error) {
	if cfg.FilePath == "" {
		return nil, NewError(CodeInvalidValue, "file storage requires a file path")
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "json"
	}
	if cfg.Encoding != "json" {
		return nil, NewError(CodeNotImplemented, "unsupported encoding %q", cfg.Encoding)
	}

	s := &FileStorage[T]{
		mapCore: newMapCore[T](BackendFile),
		cfg:     cfg,
	}
	s.load = s.loadFile
	s.persist = s.persistFile
	return s, nil
}

func (s *FileStorage[T]) loadFile(ctx context.Context, dst map[string]T) error {
	data, err := os.ReadFile(s.cfg.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if s.cfg.AutoCreate {
				return nil
			}
			return WrapError(CodeConnectionFailed, err, "store file %q does not exist", s.cfg.FilePath)
		}
		return WrapError(CodeIOError, err, "failed to read store file %q", s.cfg.FilePath)
	}

	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &dst); err != nil {
		return WrapError(CodeSerializationFailed, err, "store file %q is malformed", s.cfg.FilePath)
	}
	return nil
}

func (s *FileStorage[T]) persistFile(ctx context.Context, entries map[string]T) error {
	if !s.cfg.AutoSave {
		s.dirty = true
		return nil
	}
	return s.writeFile(entries)
}

func (s *FileStorage[T]) writeFile(entries map[string]T) error {
	var (
		data []byte
		err  error
	)
	if s.cfg.Pretty {
		data, err = json.MarshalIndent(entries, "", "  ")
	} else {
		data, err = json.Marshal(entries)
	}
	if err != nil {
		return WrapError(CodeSerializationFailed, err, "failed to serialize store")
	}

	if !s.cfg.Atomic {
		if err := os.WriteFile(s.cfg.FilePath, data, 0o644); err != nil {
			return WrapError(CodeIOError, err, "failed to write store file %q", s.cfg.FilePath)
		}
		s.dirty = false
		return nil
	}

	// The temp file lives in the target directory so the final rename
	// stays on one filesystem. A crash before the rename leaves the
	// original file untouched.
	dir := filepath.Dir(s.cfg.FilePath)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.cfg.FilePath)+".tmp-*")
	if err != nil {
		return WrapError(CodeIOError, err, "failed to create temp file in %q", dir)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return WrapError(CodeIOError, err, "failed to write temp file %q", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return WrapError(CodeIOError, err, "failed to sync temp file %q", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return WrapError(CodeIOError, err, "failed to close temp file %q", tmpName)
	}
	if err := renameFile(tmpName, s.cfg.FilePath); err != nil {
		os.Remove(tmpName)
		return WrapError(CodeIOError, err, "failed to replace store file %q", s.cfg.FilePath)
	}
	s.dirty = false
	return nil
}

// Flush writes pending changes to disk. It is only needed when AutoSave
// is disabled; with AutoSave on it is a no-op after any mutation.
func (s *FileStorage[T]) Flush(ctx context.Context) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.writeFile(s.entries)
}

// Path returns the backing file path.
func (s *FileStorage[T]) Path() string {
	return s.cfg.FilePath
}

func (s *FileStorage[T]) Close(ctx context.Context) error {
	return s.shutdown(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.dirty {
			return nil
		}
		return s.writeFile(s.entries)
	})
}
