package storage

// Config selects and configures one adapter.
type Config struct {
	Engine string // "memory" | "file" | "sqlite" | "graph"
	Memory MemoryConfig
	File   FileConfig
	SQL    SQLConfig
	Graph  GraphConfig
}

// Open creates the adapter named by cfg.Engine. The backing medium is not
// touched until the first operation.
func Open[T any](cfg Config) (BatchStorage[T], error) {
	switch Backend(cfg.Engine) {
	case BackendMemory:
		return NewMemoryStorage[T](cfg.Memory), nil
	case BackendFile:
		return NewFileStorage[T](cfg.File)
	case BackendSQL:
		return NewSQLStorage[T](cfg.SQL)
	case BackendGraph:
		return NewGraphStorage[T](cfg.Graph)
	default:
		return nil, NewError(CodeNotImplemented, "unknown storage engine %q", cfg.Engine)
	}
}
