package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// A write that dies between the temp file and the swap must leave the
// previous file byte-for-byte intact.
func TestFileStorage_FailedSwapKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	store, err := NewFileStorage[map[string]any](DefaultFileConfig(path))
	if err != nil {
		t.Fatalf("Failed to create file storage: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() {
		store.Close(ctx)
	})

	if err := store.Set(ctx, "keep", map[string]any{"v": float64(1)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read store file: %v", err)
	}

	swapErr := errors.New("rename refused")
	renameFile = func(oldpath, newpath string) error {
		return swapErr
	}
	t.Cleanup(func() {
		renameFile = os.Rename
	})

	err = store.Set(ctx, "lost", map[string]any{"v": float64(2)})
	if !IsCode(err, CodeIOError) {
		t.Fatalf("Expected io_error from the failed swap, got %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Store file disappeared after failed swap: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("Previous file changed across a failed swap:\n before %s\n after  %s", before, after)
	}

	// The aborted temp file was cleaned up too.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read directory: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "store.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("Expected only the store file after a failed swap, found %v", names)
	}

	// Once the swap works again, writes go through.
	renameFile = os.Rename
	if err := store.Set(ctx, "again", map[string]any{"v": float64(3)}); err != nil {
		t.Fatalf("Set after recovery failed: %v", err)
	}
	recovered, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read store file: %v", err)
	}
	if !bytes.Contains(recovered, []byte("again")) {
		t.Error("Recovered write did not reach the file")
	}
}
