package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Server.Host != "localhost" {
		t.Errorf("Expected default host localhost, got %s", config.Server.Host)
	}
	if config.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", config.Server.Port)
	}
	if config.Storage.Engine != "memory" {
		t.Errorf("Expected default engine memory, got %s", config.Storage.Engine)
	}
	if !config.Storage.File.Atomic {
		t.Error("Expected atomic file writes by default")
	}
	if config.Storage.SQL.TableName != "entries" {
		t.Errorf("Expected default table entries, got %s", config.Storage.SQL.TableName)
	}
	if !config.Cache.Enabled || config.Cache.Size != 1000 {
		t.Errorf("Unexpected cache defaults: %+v", config.Cache)
	}
	if config.Logging.Level != "info" || config.Logging.Format != "json" {
		t.Errorf("Unexpected logging defaults: %+v", config.Logging)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Storage.Engine != "memory" {
		t.Errorf("Expected memory engine, got %s", config.Storage.Engine)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	content := `
server:
  host: 0.0.0.0
  port: 9090
storage:
  engine: sqlite
  sql:
    database: /tmp/test.db
    table_name: docs
cache:
  enabled: false
logging:
  level: debug
  format: text
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Server.Host != "0.0.0.0" || config.Server.Port != 9090 {
		t.Errorf("Server section not applied: %+v", config.Server)
	}
	if config.Storage.Engine != "sqlite" {
		t.Errorf("Expected sqlite engine, got %s", config.Storage.Engine)
	}
	if config.Storage.SQL.Database != "/tmp/test.db" || config.Storage.SQL.TableName != "docs" {
		t.Errorf("SQL section not applied: %+v", config.Storage.SQL)
	}
	if config.Cache.Enabled {
		t.Error("Expected cache disabled")
	}
	if config.Logging.Level != "debug" || config.Logging.Format != "text" {
		t.Errorf("Logging section not applied: %+v", config.Logging)
	}

	// Untouched sections keep their defaults.
	if config.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Expected default read timeout, got %v", config.Server.ReadTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("Expected error for unsupported config format")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("POLYSTORE_SERVER_PORT", "7070")
	t.Setenv("POLYSTORE_STORAGE_ENGINE", "file")
	t.Setenv("POLYSTORE_FILE_PATH", "/tmp/env.json")
	t.Setenv("POLYSTORE_CACHE_ENABLED", "false")
	t.Setenv("POLYSTORE_LOG_LEVEL", "error")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Server.Port != 7070 {
		t.Errorf("Expected port 7070 from environment, got %d", config.Server.Port)
	}
	if config.Storage.Engine != "file" || config.Storage.File.Path != "/tmp/env.json" {
		t.Errorf("Storage environment overrides not applied: %+v", config.Storage)
	}
	if config.Cache.Enabled {
		t.Error("Expected cache disabled from environment")
	}
	if config.Logging.Level != "error" {
		t.Errorf("Expected error level from environment, got %s", config.Logging.Level)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	content := "server:\n  port: 9090\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("POLYSTORE_SERVER_PORT", "6060")

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Server.Port != 6060 {
		t.Errorf("Environment must win over the file, got port %d", config.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port above range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "unknown engine",
			mutate:  func(c *Config) { c.Storage.Engine = "etcd" },
			wantErr: true,
		},
		{
			name: "file engine without path",
			mutate: func(c *Config) {
				c.Storage.Engine = "file"
				c.Storage.File.Path = ""
			},
			wantErr: true,
		},
		{
			name: "sql engine without database",
			mutate: func(c *Config) {
				c.Storage.Engine = "sqlite"
				c.Storage.SQL.Database = ""
			},
			wantErr: true,
		},
		{
			name: "graph engine in memory needs no database",
			mutate: func(c *Config) {
				c.Storage.Engine = "graph"
				c.Storage.Graph.Database = ""
				c.Storage.Graph.InMemory = true
			},
		},
		{
			name: "graph engine on disk without database",
			mutate: func(c *Config) {
				c.Storage.Engine = "graph"
				c.Storage.Graph.Database = ""
			},
			wantErr: true,
		},
		{
			name: "enabled cache with zero size",
			mutate: func(c *Config) {
				c.Cache.Size = 0
			},
			wantErr: true,
		},
		{
			name: "disabled cache ignores size",
			mutate: func(c *Config) {
				c.Cache.Enabled = false
				c.Cache.Size = 0
			},
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestToStorageConfig(t *testing.T) {
	config := DefaultConfig()
	config.Storage.Engine = "sqlite"
	config.Storage.SQL.Database = "/tmp/x.db"
	config.Storage.SQL.TableName = "docs"

	sc := config.ToStorageConfig()
	if sc.Engine != "sqlite" {
		t.Errorf("Expected engine sqlite, got %s", sc.Engine)
	}
	if sc.SQL.Database != "/tmp/x.db" || sc.SQL.TableName != "docs" {
		t.Errorf("SQL section not mapped: %+v", sc.SQL)
	}
	if sc.File.FilePath != config.Storage.File.Path {
		t.Errorf("File path not mapped: %s", sc.File.FilePath)
	}
}
