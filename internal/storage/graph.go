package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"iter"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// GraphConfig configures the Badger-backed graph adapter.
type GraphConfig struct {
	ID       string
	Database string // directory path; ignored when InMemory is set
	InMemory bool
	ReadOnly bool
	// AutoCreate creates the database directory when missing.
	AutoCreate bool
}

// DefaultGraphConfig returns graph adapter settings with auto-create.
func DefaultGraphConfig(database string) GraphConfig {
	return GraphConfig{Database: database, AutoCreate: true}
}

// GraphNode is a typed node with an opaque property bag.
type GraphNode struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphEdge is a directed, typed edge. Self-loops (From == To) are valid.
type GraphEdge struct {
	ID         string         `json:"id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// nodeRecord is the persisted node form. Properties stay raw so the
// key-value contract round-trips arbitrary payloads losslessly.
type nodeRecord struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// defaultNodeType tags nodes written through the plain key-value surface.
const defaultNodeType = "entry"

// GraphStorage stores typed nodes and directed edges in BadgerDB. The
// key-value contract treats each node as an entry keyed by its id; the
// adapter's distinguishing operation is GetRelationships, which resolves
// every edge incident to a node in time proportional to the node's degree
// via adjacency index prefix scans, never by scanning the whole edge set.
type GraphStorage[T any] struct {
	lifecycle
	cfg GraphConfig
	db  *badger.DB
}

var _ BatchStorage[any] = (*GraphStorage[any])(nil)

// NewGraphStorage creates a graph store. The database is opened on the
// first operation.
func NewGraphStorage[T any](cfg GraphConfig) (*GraphStorage[T], error) {
	if cfg.Database == "" && !cfg.InMemory {
		return nil, NewError(CodeInvalidValue, "graph storage requires a database path")
	}
	return &GraphStorage[T]{cfg: cfg}, nil
}

func (s *GraphStorage[T]) Backend() Backend {
	return BackendGraph
}

func (s *GraphStorage[T]) ensureLoaded(ctx context.Context) error {
	return s.ensure(ctx, func(ctx context.Context) error {
		var opts badger.Options
		if s.cfg.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			if _, err := os.Stat(s.cfg.Database); errors.Is(err, fs.ErrNotExist) {
				if !s.cfg.AutoCreate {
					return WrapError(CodeConnectionFailed, err, "database %q does not exist", s.cfg.Database)
				}
				if err := os.MkdirAll(s.cfg.Database, 0o755); err != nil {
					return WrapError(CodeIOError, err, "failed to create database directory %q", s.cfg.Database)
				}
			}
			opts = badger.DefaultOptions(s.cfg.Database).WithReadOnly(s.cfg.ReadOnly)
		}
		opts = opts.WithLogger(nil)

		db, err := badger.Open(opts)
		if err != nil {
			return WrapError(CodeConnectionFailed, err, "failed to open graph database")
		}
		s.db = db
		return nil
	})
}

func decodeNode(data []byte) (nodeRecord, error) {
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, WrapError(CodeSerializationFailed, err, "failed to decode node record")
	}
	return rec, nil
}

func (s *GraphStorage[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	if err := ValidateKey(key); err != nil {
		return zero, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return zero, err
	}

	var rec nodeRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeNode(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return zero, NewError(CodeKeyNotFound, "key %q not found", key)
	}
	if err != nil {
		if IsCode(err, CodeSerializationFailed) {
			return zero, err
		}
		return zero, WrapError(CodeIOError, err, "failed to read node %q", key)
	}

	var value T
	if err := json.Unmarshal(rec.Properties, &value); err != nil {
		return zero, WrapError(CodeSerializationFailed, err, "failed to decode node %q payload", key)
	}
	return value, nil
}

func (s *GraphStorage[T]) Set(ctx context.Context, key string, value T) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return WrapError(CodeSerializationFailed, err, "failed to encode value")
	}
	return s.putNode(nodeRecord{ID: key, Type: defaultNodeType, Properties: raw})
}

func (s *GraphStorage[T]) putNode(rec nodeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return WrapError(CodeSerializationFailed, err, "failed to encode node record")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(nodeKey(rec.ID), data)
	})
	if err != nil {
		return WrapError(CodeWriteFailed, err, "failed to write node %q", rec.ID)
	}
	return nil
}

// AddNode writes a typed node. An existing node with the same id is
// overwritten.
func (s *GraphStorage[T]) AddNode(ctx context.Context, node GraphNode) error {
	if err := ValidateKey(node.ID); err != nil {
		return err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	nodeType := node.Type
	if nodeType == "" {
		nodeType = defaultNodeType
	}
	raw, err := json.Marshal(node.Properties)
	if err != nil {
		return WrapError(CodeSerializationFailed, err, "failed to encode node properties")
	}
	return s.putNode(nodeRecord{ID: node.ID, Type: nodeType, Properties: raw})
}

// NodeByID returns a node with its decoded property bag.
func (s *GraphStorage[T]) NodeByID(ctx context.Context, id string) (GraphNode, error) {
	var node GraphNode
	if err := ValidateKey(id); err != nil {
		return node, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return node, err
	}

	var rec nodeRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeNode(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return node, NewError(CodeKeyNotFound, "node %q not found", id)
	}
	if err != nil {
		return node, WrapError(CodeIOError, err, "failed to read node %q", id)
	}

	node = GraphNode{ID: rec.ID, Type: rec.Type}
	if len(rec.Properties) > 0 {
		if err := json.Unmarshal(rec.Properties, &node.Properties); err != nil {
			return GraphNode{}, WrapError(CodeSerializationFailed, err, "failed to decode node %q properties", id)
		}
	}
	return node, nil
}

// AddEdge writes a directed edge between two existing nodes and returns
// it with a generated id when none was supplied.
func (s *GraphStorage[T]) AddEdge(ctx context.Context, edge GraphEdge) (GraphEdge, error) {
	if err := ValidateKey(edge.From); err != nil {
		return GraphEdge{}, err
	}
	if err := ValidateKey(edge.To); err != nil {
		return GraphEdge{}, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return GraphEdge{}, err
	}

	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	data, err := json.Marshal(edge)
	if err != nil {
		return GraphEdge{}, WrapError(CodeSerializationFailed, err, "failed to encode edge")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, endpoint := range []string{edge.From, edge.To} {
			if _, err := txn.Get(nodeKey(endpoint)); errors.Is(err, badger.ErrKeyNotFound) {
				return NewError(CodeKeyNotFound, "edge endpoint %q does not exist", endpoint)
			} else if err != nil {
				return err
			}
		}
		if err := txn.Set(edgeKey(edge.ID), data); err != nil {
			return err
		}
		if err := txn.Set(outIndexKey(edge.From, edge.ID), []byte{}); err != nil {
			return err
		}
		return txn.Set(inIndexKey(edge.To, edge.ID), []byte{})
	})
	if err != nil {
		if IsCode(err, CodeKeyNotFound) {
			return GraphEdge{}, err
		}
		return GraphEdge{}, WrapError(CodeWriteFailed, err, "failed to write edge %q", edge.ID)
	}
	return edge, nil
}

// GetRelationships returns every edge touching nodeID in either
// direction, self-loops included exactly once. An isolated or unknown
// node yields an empty result, not an error.
//
// Cost is proportional to the node's degree: two adjacency prefix scans
// plus one record fetch per incident edge. The full edge set is never
// scanned.
func (s *GraphStorage[T]) GetRelationships(ctx context.Context, nodeID string) ([]GraphEdge, error) {
	if err := ValidateKey(nodeID); err != nil {
		return nil, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	var edges []GraphEdge
	err := s.db.View(func(txn *badger.Txn) error {
		edgeIDs, err := incidentEdgeIDs(txn, nodeID)
		if err != nil {
			return err
		}
		for _, edgeID := range edgeIDs {
			item, err := txn.Get(edgeKey(edgeID))
			if err != nil {
				return err
			}
			var edge GraphEdge
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &edge)
			}); err != nil {
				return WrapError(CodeSerializationFailed, err, "failed to decode edge %q", edgeID)
			}
			edges = append(edges, edge)
		}
		return nil
	})
	if err != nil {
		if IsCode(err, CodeSerializationFailed) {
			return nil, err
		}
		return nil, WrapError(CodeIOError, err, "failed to resolve relationships of %q", nodeID)
	}
	return edges, nil
}

// incidentEdgeIDs collects the ids of all edges incident to nodeID from
// the adjacency indexes, deduplicating self-loops.
func incidentEdgeIDs(txn *badger.Txn, nodeID string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string

	for _, prefix := range [][]byte{outIndexScanPrefix(nodeID), inIndexScanPrefix(nodeID)} {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			edgeID := edgeIDFromIndexKey(it.Item().Key(), prefix)
			if _, dup := seen[edgeID]; dup {
				continue
			}
			seen[edgeID] = struct{}{}
			ids = append(ids, edgeID)
		}
		it.Close()
	}
	return ids, nil
}

// DeleteEdge removes one edge and its adjacency entries. Deleting an
// absent edge is not an error.
func (s *GraphStorage[T]) DeleteEdge(ctx context.Context, edgeID string) error {
	if err := ValidateKey(edgeID); err != nil {
		return err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return deleteEdgeTx(txn, edgeID)
	})
	if err != nil {
		return WrapError(CodeDeleteFailed, err, "failed to delete edge %q", edgeID)
	}
	return nil
}

func deleteEdgeTx(txn *badger.Txn, edgeID string) error {
	item, err := txn.Get(edgeKey(edgeID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var edge GraphEdge
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &edge)
	}); err != nil {
		return err
	}
	if err := txn.Delete(outIndexKey(edge.From, edgeID)); err != nil {
		return err
	}
	if err := txn.Delete(inIndexKey(edge.To, edgeID)); err != nil {
		return err
	}
	return txn.Delete(edgeKey(edgeID))
}

// Delete removes a node and every edge incident to it.
func (s *GraphStorage[T]) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return deleteNodeTx(txn, key)
	})
	if err != nil {
		return WrapError(CodeDeleteFailed, err, "failed to delete node %q", key)
	}
	return nil
}

func deleteNodeTx(txn *badger.Txn, nodeID string) error {
	edgeIDs, err := incidentEdgeIDs(txn, nodeID)
	if err != nil {
		return err
	}
	for _, edgeID := range edgeIDs {
		if err := deleteEdgeTx(txn, edgeID); err != nil {
			return err
		}
	}
	return txn.Delete(nodeKey(nodeID))
}

func (s *GraphStorage[T]) Has(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return false, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(nodeKey(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, WrapError(CodeIOError, err, "failed to check node %q", key)
	}
	return true, nil
}

func (s *GraphStorage[T]) Clear(ctx context.Context) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := s.db.DropAll(); err != nil {
		return WrapError(CodeDeleteFailed, err, "failed to clear graph database")
	}
	return nil
}

func (s *GraphStorage[T]) Size(ctx context.Context) (int, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(nodeRecordPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, WrapError(CodeIOError, err, "failed to count nodes")
	}
	return count, nil
}

// snapshotNodes reads all node records at the moment of the call.
func (s *GraphStorage[T]) snapshotNodes(ctx context.Context) ([]Entry[T], error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	var entries []Entry[T]
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(nodeRecordPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec nodeRecord
			if err := item.Value(func(val []byte) error {
				var err error
				rec, err = decodeNode(val)
				return err
			}); err != nil {
				return err
			}
			var value T
			if err := json.Unmarshal(rec.Properties, &value); err != nil {
				return WrapError(CodeSerializationFailed, err, "failed to decode node %q payload", rec.ID)
			}
			entries = append(entries, Entry[T]{Key: rec.ID, Value: value})
		}
		return nil
	})
	if err != nil {
		if IsCode(err, CodeSerializationFailed) {
			return nil, err
		}
		return nil, WrapError(CodeIOError, err, "failed to scan nodes")
	}
	return entries, nil
}

func (s *GraphStorage[T]) Keys(ctx context.Context) (iter.Seq[string], error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(nodeRecordPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, nodeIDFromKey(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, WrapError(CodeIOError, err, "failed to scan node keys")
	}
	return seqOf(keys), nil
}

func (s *GraphStorage[T]) Values(ctx context.Context) (iter.Seq[T], error) {
	entries, err := s.snapshotNodes(ctx)
	if err != nil {
		return nil, err
	}
	values := make([]T, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return seqOf(values), nil
}

func (s *GraphStorage[T]) Entries(ctx context.Context) (iter.Seq[Entry[T]], error) {
	entries, err := s.snapshotNodes(ctx)
	if err != nil {
		return nil, err
	}
	return seqOf(entries), nil
}

func (s *GraphStorage[T]) GetMany(ctx context.Context, keys []string) (map[string]T, error) {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return nil, err
		}
	}
	found := make(map[string]T, len(keys))
	for _, key := range keys {
		value, err := s.Get(ctx, key)
		if IsCode(err, CodeKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found[key] = value
	}
	return found, nil
}

func (s *GraphStorage[T]) SetMany(ctx context.Context, entries map[string]T) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	for key, value := range entries {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *GraphStorage[T]) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return err
		}
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *GraphStorage[T]) Batch(ctx context.Context, ops []Operation[T]) (*BatchResult, error) {
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

func (s *GraphStorage[T]) Close(ctx context.Context) error {
	return s.shutdown(func() error {
		if s.db == nil {
			return nil
		}
		if err := s.db.Close(); err != nil {
			return WrapError(CodeIOError, err, "failed to close graph database")
		}
		return nil
	})
}
