package logging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"polystore/internal/config"
)

// fileLogger writes to a temp file so tests can read the emitted records
// back.
func fileLogger(t *testing.T, level, format string) (*Logger, func() string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.log")
	logger := NewLogger(&config.LoggingConfig{
		Level:  level,
		Format: format,
		Output: path,
	})
	read := func() string {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		return string(data)
	}
	return logger, read
}

func decodeLines(t *testing.T, raw string) []map[string]any {
	t.Helper()

	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("Log line is not JSON: %q: %v", line, err)
		}
		records = append(records, record)
	}
	return records
}

func TestLogger_JSONFormat(t *testing.T) {
	logger, read := fileLogger(t, "info", "json")

	logger.Info("hello", "key", "value")

	records := decodeLines(t, read())
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0]["msg"] != "hello" || records[0]["key"] != "value" {
		t.Errorf("Unexpected record: %v", records[0])
	}
}

func TestLogger_LevelFiltersDebug(t *testing.T) {
	logger, read := fileLogger(t, "info", "json")

	logger.Debug("hidden")
	logger.Info("visible")

	records := decodeLines(t, read())
	if len(records) != 1 || records[0]["msg"] != "visible" {
		t.Errorf("Expected only the info record, got %v", records)
	}
}

func TestLogger_WithContextAddsCorrelationIDs(t *testing.T) {
	logger, read := fileLogger(t, "info", "json")

	ctx := CreateContextWithIDs(context.Background(), "cor_test", "req_test")
	logger.InfoContext(ctx, "traced")

	records := decodeLines(t, read())
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0]["correlation_id"] != "cor_test" || records[0]["request_id"] != "req_test" {
		t.Errorf("Context ids not attached: %v", records[0])
	}
}

func TestLogger_WithFieldsAndError(t *testing.T) {
	logger, read := fileLogger(t, "info", "json")

	logger.WithField("backend", "sql").WithError(os.ErrClosed).Info("op")

	records := decodeLines(t, read())
	if records[0]["backend"] != "sql" {
		t.Errorf("Expected backend field, got %v", records[0])
	}
	if records[0]["error"] != os.ErrClosed.Error() {
		t.Errorf("Expected error field, got %v", records[0])
	}
}

func TestLogger_RequestEndEscalatesLevel(t *testing.T) {
	logger, read := fileLogger(t, "info", "json")
	ctx := context.Background()

	logger.RequestEnd(ctx, "GET", "/ok", 200, time.Millisecond, 10)
	logger.RequestEnd(ctx, "GET", "/missing", 404, time.Millisecond, 10)
	logger.RequestEnd(ctx, "GET", "/broken", 500, time.Millisecond, 10)

	records := decodeLines(t, read())
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	wantLevels := []string{"INFO", "WARN", "ERROR"}
	for i, record := range records {
		if record["level"] != wantLevels[i] {
			t.Errorf("Record %d: expected level %s, got %v", i, wantLevels[i], record["level"])
		}
	}
}

func TestLogger_StorageOperationFailure(t *testing.T) {
	logger, read := fileLogger(t, "debug", "json")

	logger.StorageOperation(context.Background(), "file", "set", "k", time.Millisecond, os.ErrPermission)

	records := decodeLines(t, read())
	record := records[len(records)-1]
	if record["level"] != "ERROR" {
		t.Errorf("Expected ERROR for failed operation, got %v", record["level"])
	}
	if record["backend"] != "file" || record["operation"] != "set" {
		t.Errorf("Missing operation fields: %v", record)
	}
}

func TestSanitizeCorrelationID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cor_abc", "cor_abc"},
		{"evil\ninjection", "evilinjection"},
		{"tab\there\rcr", "tabherecr"},
		{strings.Repeat("x", 100), strings.Repeat("x", 64)},
	}
	for _, tt := range tests {
		if got := SanitizeCorrelationID(tt.in); got != tt.want {
			t.Errorf("SanitizeCorrelationID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	logger, _ := fileLogger(t, "error", "json")

	var gotCorrelation, gotRequest string
	handler := CorrelationIDMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = ExtractCorrelationID(r.Context())
		gotRequest = ExtractRequestID(r.Context())
	}))

	// Generated when absent.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.HasPrefix(gotCorrelation, "cor_") {
		t.Errorf("Expected generated correlation id, got %q", gotCorrelation)
	}
	if !strings.HasPrefix(gotRequest, "req_") {
		t.Errorf("Expected generated request id, got %q", gotRequest)
	}
	if rec.Header().Get(CorrelationIDHeader) != gotCorrelation {
		t.Error("Correlation id must be echoed on the response")
	}

	// Propagated when present, with injection characters stripped.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "cor_in\nbound")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotCorrelation != "cor_inbound" {
		t.Errorf("Expected sanitized inbound id, got %q", gotCorrelation)
	}
}

func TestLoggingMiddleware_CapturesStatusAndSize(t *testing.T) {
	logger, read := fileLogger(t, "info", "json")

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/teapot", nil))

	records := decodeLines(t, read())
	record := records[len(records)-1]
	if record["status_code"] != float64(http.StatusTeapot) {
		t.Errorf("Expected status 418, got %v", record["status_code"])
	}
	if record["response_size"] != float64(len("short and stout")) {
		t.Errorf("Expected response size, got %v", record["response_size"])
	}
}

func TestPropagateCorrelationID(t *testing.T) {
	ctx := CreateContextWithIDs(context.Background(), "cor_x", "req_y")
	req := httptest.NewRequest(http.MethodGet, "http://upstream/", nil)

	PropagateCorrelationID(ctx, req)

	if req.Header.Get(CorrelationIDHeader) != "cor_x" {
		t.Errorf("Correlation header not propagated: %q", req.Header.Get(CorrelationIDHeader))
	}
	if req.Header.Get(RequestIDHeader) != "req_y" {
		t.Errorf("Request header not propagated: %q", req.Header.Get(RequestIDHeader))
	}
}
