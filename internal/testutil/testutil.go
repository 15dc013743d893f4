package testutil

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"polystore/internal/config"
	"polystore/internal/logging"
	"polystore/internal/storage"
)

// Document is the value type most tests exercise the adapters with.
type Document = map[string]any

// Backends lists every adapter under test; cross-backend suites iterate
// over it with t.Run per backend.
var Backends = []storage.Backend{
	storage.BackendMemory,
	storage.BackendFile,
	storage.BackendSQL,
	storage.BackendGraph,
}

// OpenStorage creates an adapter of the given backend rooted in a test
// temp directory and closes it when the test ends.
func OpenStorage(t *testing.T, backend storage.Backend) storage.BatchStorage[Document] {
	t.Helper()

	dir := t.TempDir()
	cfg := storage.Config{
		Engine: string(backend),
		Memory: storage.MemoryConfig{ID: "test"},
		File:   storage.DefaultFileConfig(filepath.Join(dir, "store.json")),
		SQL: storage.SQLConfig{
			Database:   filepath.Join(dir, "store.db"),
			TableName:  "entries",
			AutoCreate: true,
		},
		Graph: storage.GraphConfig{
			Database:   filepath.Join(dir, "graph"),
			AutoCreate: true,
		},
	}

	store, err := storage.Open[Document](cfg)
	if err != nil {
		t.Fatalf("Failed to create %s storage: %v", backend, err)
	}

	t.Cleanup(func() {
		store.Close(context.Background())
	})

	return store
}

// TestConfig creates a test configuration
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0 // Let the OS choose a free port for testing
	return cfg
}

// TestLogger creates a test logger with minimal configuration
func TestLogger() *logging.Logger {
	testLogConfig := logging.TestLoggingConfig()
	return logging.NewLogger(&testLogConfig)
}

// PopulateTestData stores count generic documents and returns them
func PopulateTestData(t *testing.T, store storage.BatchStorage[Document], count int) map[string]Document {
	t.Helper()

	data := make(map[string]Document, count)
	ctx := context.Background()
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := Document{"index": float64(i), "name": fmt.Sprintf("test-value-%d", i)}

		if err := store.Set(ctx, key, value); err != nil {
			t.Fatalf("Failed to set test data: %v", err)
		}
		data[key] = value
	}

	return data
}

// People is a fixed 20-person dataset for query tests. Ages are the
// distinct values 21..40 so ordering and pagination have a single
// correct answer on every backend.
func People() map[string]Document {
	depts := []string{"eng", "sales", "ops", "hr"}
	people := make(map[string]Document, 20)
	for i := 0; i < 20; i++ {
		doc := Document{
			"name":   fmt.Sprintf("person-%02d", i),
			"age":    float64(21 + i),
			"dept":   depts[i%len(depts)],
			"active": i%2 == 0,
		}
		if i%5 == 0 {
			doc["nickname"] = nil // explicit null, distinct from absent
		}
		people[fmt.Sprintf("p%02d", i)] = doc
	}
	return people
}

// PopulatePeople loads the People fixture into a store
func PopulatePeople(t *testing.T, store storage.BatchStorage[Document]) map[string]Document {
	t.Helper()

	people := People()
	if err := store.SetMany(context.Background(), people); err != nil {
		t.Fatalf("Failed to load people fixture: %v", err)
	}
	return people
}

// AssertKeyExists verifies that a key exists in storage
func AssertKeyExists(t *testing.T, store storage.Storage[Document], key string) {
	t.Helper()

	exists, err := store.Has(context.Background(), key)
	if err != nil {
		t.Fatalf("Failed to check key existence: %v", err)
	}
	if !exists {
		t.Errorf("Expected key %s to exist, but it doesn't", key)
	}
}

// AssertKeyNotExists verifies that a key does not exist in storage
func AssertKeyNotExists(t *testing.T, store storage.Storage[Document], key string) {
	t.Helper()

	exists, err := store.Has(context.Background(), key)
	if err != nil {
		t.Fatalf("Failed to check key existence: %v", err)
	}
	if exists {
		t.Errorf("Expected key %s to not exist, but it does", key)
	}
}

// AssertErrorCode verifies that an error carries the expected code
func AssertErrorCode(t *testing.T, err error, code storage.Code) {
	t.Helper()

	if err == nil {
		t.Fatalf("Expected error with code %s, got nil", code)
	}
	if !storage.IsCode(err, code) {
		t.Errorf("Expected error code %s, got %s (%v)", code, storage.CodeOf(err), err)
	}
}

// GenerateRandomString generates a random string of given length
func GenerateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[rand.Intn(len(charset))]
	}
	return string(result)
}

// GenerateRandomKey generates a random key for testing
func GenerateRandomKey() string {
	return fmt.Sprintf("test-key-%s", GenerateRandomString(8))
}

// AssertContains verifies that a string contains a substring
func AssertContains(t *testing.T, str, substr string) {
	t.Helper()

	if !strings.Contains(str, substr) {
		t.Errorf("Expected string to contain %s, but it doesn't: %s", substr, str)
	}
}

// WaitForCondition waits for a condition to become true with timeout
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, checkInterval time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(checkInterval)
	}

	t.Fatalf("Condition not met within timeout %v", timeout)
}
