package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"polystore/internal/storage"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxBodySize  int64         `yaml:"max_body_size" json:"max_body_size"`
}

// StorageConfig selects the persistence engine and carries per-engine
// settings. Only the section matching Engine is consulted.
type StorageConfig struct {
	Engine string       `yaml:"engine" json:"engine"`
	Memory MemoryConfig `yaml:"memory" json:"memory"`
	File   FileConfig   `yaml:"file" json:"file"`
	SQL    SQLConfig    `yaml:"sql" json:"sql"`
	Graph  GraphConfig  `yaml:"graph" json:"graph"`
}

type MemoryConfig struct {
	ID    string `yaml:"id" json:"id"`
	Debug bool   `yaml:"debug" json:"debug"`
}

type FileConfig struct {
	ID         string `yaml:"id" json:"id"`
	Path       string `yaml:"path" json:"path"`
	Pretty     bool   `yaml:"pretty" json:"pretty"`
	Atomic     bool   `yaml:"atomic" json:"atomic"`
	AutoSave   bool   `yaml:"auto_save" json:"auto_save"`
	AutoCreate bool   `yaml:"auto_create" json:"auto_create"`
}

type SQLConfig struct {
	ID         string `yaml:"id" json:"id"`
	Database   string `yaml:"database" json:"database"`
	TableName  string `yaml:"table_name" json:"table_name"`
	Threads    int    `yaml:"threads" json:"threads"`
	PoolSize   int    `yaml:"pool_size" json:"pool_size"`
	AutoCreate bool   `yaml:"auto_create" json:"auto_create"`
}

type GraphConfig struct {
	ID         string `yaml:"id" json:"id"`
	Database   string `yaml:"database" json:"database"`
	InMemory   bool   `yaml:"in_memory" json:"in_memory"`
	ReadOnly   bool   `yaml:"read_only" json:"read_only"`
	AutoCreate bool   `yaml:"auto_create" json:"auto_create"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Size    int           `yaml:"size" json:"size"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

type LoggingConfig struct {
	Level                string `yaml:"level" json:"level"`
	Format               string `yaml:"format" json:"format"`
	Output               string `yaml:"output" json:"output"`
	EnableRequestTracing bool   `yaml:"enable_request_tracing" json:"enable_request_tracing"`
	EnableCorrelationIDs bool   `yaml:"enable_correlation_ids" json:"enable_correlation_ids"`
}

// Load builds the effective configuration: defaults, overlaid by the
// optional YAML file, overlaid by environment variables, then validated.
func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodySize:  1024 * 1024, // 1MB
		},
		Storage: StorageConfig{
			Engine: "memory",
			Memory: MemoryConfig{
				ID: "default",
			},
			File: FileConfig{
				ID:         "default",
				Path:       "./data/store.json",
				Atomic:     true,
				AutoSave:   true,
				AutoCreate: true,
			},
			SQL: SQLConfig{
				ID:         "default",
				Database:   "./data/store.db",
				TableName:  "entries",
				Threads:    4,
				PoolSize:   8,
				AutoCreate: true,
			},
			Graph: GraphConfig{
				ID:         "default",
				Database:   "./data/graph",
				AutoCreate: true,
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    1000,
			TTL:     5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:                "info",
			Format:               "json",
			Output:               "stdout",
			EnableRequestTracing: true,
			EnableCorrelationIDs: true,
		},
	}
}

func loadFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

func loadFromEnvironment(config *Config) {
	// Server configuration
	if host := os.Getenv("POLYSTORE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("POLYSTORE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Storage configuration
	if engine := os.Getenv("POLYSTORE_STORAGE_ENGINE"); engine != "" {
		config.Storage.Engine = engine
	}
	if path := os.Getenv("POLYSTORE_FILE_PATH"); path != "" {
		config.Storage.File.Path = path
	}
	if database := os.Getenv("POLYSTORE_SQL_DATABASE"); database != "" {
		config.Storage.SQL.Database = database
	}
	if database := os.Getenv("POLYSTORE_GRAPH_DATABASE"); database != "" {
		config.Storage.Graph.Database = database
	}
	if inMemory := os.Getenv("POLYSTORE_GRAPH_IN_MEMORY"); inMemory != "" {
		if b, err := strconv.ParseBool(inMemory); err == nil {
			config.Storage.Graph.InMemory = b
		}
	}

	// Cache configuration
	if enabled := os.Getenv("POLYSTORE_CACHE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Cache.Enabled = b
		}
	}
	if size := os.Getenv("POLYSTORE_CACHE_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.Cache.Size = n
		}
	}

	// Logging configuration
	if level := os.Getenv("POLYSTORE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("POLYSTORE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("max body size must be positive")
	}

	// Storage validation
	switch storage.Backend(c.Storage.Engine) {
	case storage.BackendMemory:
	case storage.BackendFile:
		if c.Storage.File.Path == "" {
			return fmt.Errorf("file path cannot be empty for the file engine")
		}
	case storage.BackendSQL:
		if c.Storage.SQL.Database == "" {
			return fmt.Errorf("database cannot be empty for the sql engine")
		}
		if c.Storage.SQL.PoolSize < 0 || c.Storage.SQL.Threads < 0 {
			return fmt.Errorf("sql pool size and threads cannot be negative")
		}
	case storage.BackendGraph:
		if !c.Storage.Graph.InMemory && c.Storage.Graph.Database == "" {
			return fmt.Errorf("database cannot be empty for an on-disk graph engine")
		}
	default:
		return fmt.Errorf("unknown storage engine: %s", c.Storage.Engine)
	}

	// Cache validation
	if c.Cache.Enabled {
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive when the cache is enabled")
		}
		if c.Cache.TTL < 0 {
			return fmt.Errorf("cache TTL cannot be negative")
		}
	}

	// Logging validation
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// ToStorageConfig maps the YAML sections onto the adapter factory's
// configuration.
func (c *Config) ToStorageConfig() storage.Config {
	return storage.Config{
		Engine: c.Storage.Engine,
		Memory: storage.MemoryConfig{
			ID:    c.Storage.Memory.ID,
			Debug: c.Storage.Memory.Debug,
		},
		File: storage.FileConfig{
			ID:         c.Storage.File.ID,
			FilePath:   c.Storage.File.Path,
			Pretty:     c.Storage.File.Pretty,
			Atomic:     c.Storage.File.Atomic,
			AutoSave:   c.Storage.File.AutoSave,
			AutoCreate: c.Storage.File.AutoCreate,
		},
		SQL: storage.SQLConfig{
			ID:         c.Storage.SQL.ID,
			Database:   c.Storage.SQL.Database,
			TableName:  c.Storage.SQL.TableName,
			Threads:    c.Storage.SQL.Threads,
			PoolSize:   c.Storage.SQL.PoolSize,
			AutoCreate: c.Storage.SQL.AutoCreate,
		},
		Graph: storage.GraphConfig{
			ID:         c.Storage.Graph.ID,
			Database:   c.Storage.Graph.Database,
			InMemory:   c.Storage.Graph.InMemory,
			ReadOnly:   c.Storage.Graph.ReadOnly,
			AutoCreate: c.Storage.Graph.AutoCreate,
		},
	}
}

func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
