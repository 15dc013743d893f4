package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"polystore/internal/logging"
	"polystore/internal/query"
	"polystore/internal/storage"

	"github.com/gorilla/mux"
)

// Document is the value type served over HTTP: a schemaless JSON object.
type Document = map[string]any

// RESTHandler handles HTTP REST API requests
type RESTHandler struct {
	store     storage.BatchStorage[Document]
	executor  query.Executor[Document]
	graph     *storage.GraphStorage[Document] // nil unless the graph engine backs the store
	logger    *logging.Logger
	startTime time.Time
}

// NewRESTHandler creates a new REST API handler. The query executor is
// selected to match the store's backend; graph endpoints are registered
// only when the store is graph-backed.
func NewRESTHandler(store storage.BatchStorage[Document], executor query.Executor[Document], logger *logging.Logger) *RESTHandler {
	h := &RESTHandler{
		store:     store,
		executor:  executor,
		logger:    logger,
		startTime: time.Now(),
	}
	if g, ok := store.(*storage.GraphStorage[Document]); ok {
		h.graph = g
	}
	return h
}

// Request/Response types for JSON handling

// SetResponse represents a PUT response
type SetResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// GetResponse represents a GET response
type GetResponse struct {
	Found bool     `json:"found"`
	Value Document `json:"value,omitempty"`
	Error string   `json:"error,omitempty"`
}

// DeleteResponse represents a DELETE response
type DeleteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ExistsResponse represents a HEAD response
type ExistsResponse struct {
	Exists bool   `json:"exists"`
	Error  string `json:"error,omitempty"`
}

// ListKeysResponse represents a key listing response
type ListKeysResponse struct {
	Keys    []string `json:"keys"`
	Count   int      `json:"count"`
	HasMore bool     `json:"has_more"`
	Error   string   `json:"error,omitempty"`
}

// BatchRequest represents a mixed batch of operations applied in order
type BatchRequest struct {
	Operations []BatchOperation `json:"operations"`
}

// BatchOperation is a single set, delete or clear
type BatchOperation struct {
	Type  string   `json:"type"` // "set" | "delete" | "clear"
	Key   string   `json:"key,omitempty"`
	Value Document `json:"value,omitempty"`
}

// BatchGetRequest represents a batch GET request
type BatchGetRequest struct {
	Keys []string `json:"keys"`
}

// BatchGetResponse represents a batch GET response
type BatchGetResponse struct {
	Values map[string]Document `json:"values"`
	Count  int                 `json:"count"`
	Error  string              `json:"error,omitempty"`
}

// BatchOpError describes one failed operation within a batch
type BatchOpError struct {
	Index int    `json:"index"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error"`
}

// BatchResponse reports per-operation outcomes of a batch
type BatchResponse struct {
	Success    bool           `json:"success"`
	Applied    int            `json:"applied"`
	TotalCount int            `json:"total_count"`
	Errors     []BatchOpError `json:"errors,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// QueryRequest is the wire form of a query
type QueryRequest struct {
	Conditions   []QueryCondition   `json:"conditions,omitempty"`
	OrderBy      []QueryOrdering    `json:"order_by,omitempty"`
	Limit        *int               `json:"limit,omitempty"`
	Offset       int                `json:"offset,omitempty"`
	Aggregations []QueryAggregation `json:"aggregations,omitempty"`
	GroupBy      []string           `json:"group_by,omitempty"`
}

type QueryCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	High     any    `json:"high,omitempty"`
}

type QueryOrdering struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type QueryAggregation struct {
	Func  string `json:"func"`
	Field string `json:"field,omitempty"`
}

// QueryResponse carries rows or aggregates plus execution metadata
type QueryResponse struct {
	Rows       []Document           `json:"rows,omitempty"`
	Aggregates []query.AggregateRow `json:"aggregates,omitempty"`
	Meta       query.Metadata       `json:"metadata"`
	Error      string               `json:"error,omitempty"`
}

// RelationshipsResponse lists the edges incident to a node
type RelationshipsResponse struct {
	NodeID string              `json:"node_id"`
	Edges  []storage.GraphEdge `json:"edges"`
	Count  int                 `json:"count"`
	Error  string              `json:"error,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Healthy       bool   `json:"healthy"`
	Status        string `json:"status"`
	Backend       string `json:"backend"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Version       string `json:"version"`
	Timestamp     int64  `json:"timestamp"`
}

// StatsResponse represents a stats response
type StatsResponse struct {
	Backend   string `json:"backend"`
	TotalKeys int    `json:"total_keys"`
	Error     string `json:"error,omitempty"`
}

// ErrorResponse represents a generic error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusForError maps the storage error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch storage.CodeOf(err) {
	case storage.CodeKeyNotFound:
		return http.StatusNotFound
	case storage.CodeDuplicateKey:
		return http.StatusConflict
	case storage.CodeInvalidKey, storage.CodeInvalidValue, storage.CodeQueryFailed:
		return http.StatusBadRequest
	case storage.CodeStorageFull, storage.CodeQuotaExceeded:
		return http.StatusInsufficientStorage
	case storage.CodeTimeout:
		return http.StatusGatewayTimeout
	case storage.CodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// PUT /api/v1/kv/{key}
func (h *RESTHandler) SetKey(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	key := mux.Vars(r)["key"]

	var value Document
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		h.logger.WarnContext(ctx, "PUT request with invalid JSON", "error", err.Error())
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}

	err := h.store.Set(ctx, key, value)
	duration := time.Since(start)

	if err != nil {
		h.logger.StorageOperation(ctx, string(h.store.Backend()), "set", key, duration, err)
		h.writeJSONResponse(w, statusForError(err), SetResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	h.logger.StorageOperation(ctx, string(h.store.Backend()), "set", key, duration, nil)
	h.writeJSONResponse(w, http.StatusOK, SetResponse{
		Success: true,
	})
}

// GET /api/v1/kv/{key}
func (h *RESTHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := mux.Vars(r)["key"]

	value, err := h.store.Get(ctx, key)
	if err != nil {
		if storage.IsCode(err, storage.CodeKeyNotFound) {
			h.writeJSONResponse(w, http.StatusNotFound, GetResponse{
				Found: false,
			})
			return
		}

		h.logger.WithError(err).WithField("key", key).Error("Failed to get key")
		h.writeJSONResponse(w, statusForError(err), GetResponse{
			Found: false,
			Error: err.Error(),
		})
		return
	}

	h.writeJSONResponse(w, http.StatusOK, GetResponse{
		Found: true,
		Value: value,
	})
}

// DELETE /api/v1/kv/{key}
func (h *RESTHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := mux.Vars(r)["key"]

	if err := h.store.Delete(ctx, key); err != nil {
		h.logger.WithError(err).WithField("key", key).Error("Failed to delete key")
		h.writeJSONResponse(w, statusForError(err), DeleteResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	h.writeJSONResponse(w, http.StatusOK, DeleteResponse{
		Success: true,
	})
}

// HEAD /api/v1/kv/{key}
func (h *RESTHandler) ExistsKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := mux.Vars(r)["key"]

	exists, err := h.store.Has(ctx, key)
	if err != nil {
		h.logger.WithError(err).WithField("key", key).Error("Failed to check key existence")
		h.writeJSONResponse(w, statusForError(err), ExistsResponse{
			Exists: false,
			Error:  err.Error(),
		})
		return
	}

	if exists {
		h.writeJSONResponse(w, http.StatusOK, ExistsResponse{
			Exists: true,
		})
	} else {
		h.writeJSONResponse(w, http.StatusNotFound, ExistsResponse{
			Exists: false,
		})
	}
}

// GET /api/v1/kv?limit={limit}
func (h *RESTHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 100 // default limit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	keySeq, err := h.store.Keys(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list keys")
		h.writeJSONResponse(w, statusForError(err), ListKeysResponse{
			Error: err.Error(),
		})
		return
	}

	keys := make([]string, 0, limit)
	hasMore := false
	for key := range keySeq {
		if len(keys) >= limit {
			hasMore = true
			break
		}
		keys = append(keys, key)
	}

	h.writeJSONResponse(w, http.StatusOK, ListKeysResponse{
		Keys:    keys,
		Count:   len(keys),
		HasMore: hasMore,
	})
}

// POST /api/v1/kv/batch
func (h *RESTHandler) Batch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}

	ops := make([]storage.Operation[Document], 0, len(req.Operations))
	for _, op := range req.Operations {
		switch op.Type {
		case "set":
			ops = append(ops, storage.SetOp(op.Key, op.Value))
		case "delete":
			ops = append(ops, storage.DeleteOp[Document](op.Key))
		case "clear":
			ops = append(ops, storage.ClearOp[Document]())
		default:
			h.writeErrorResponse(w, http.StatusBadRequest, "Unknown operation type: "+op.Type)
			return
		}
	}

	result, err := h.store.Batch(ctx, ops)
	if err != nil {
		h.logger.WithError(err).Error("Batch rejected")
		h.writeJSONResponse(w, statusForError(err), BatchResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	resp := BatchResponse{
		Success:    result.Success,
		Applied:    result.Applied,
		TotalCount: len(ops),
	}
	for _, opErr := range result.Errors {
		resp.Errors = append(resp.Errors, BatchOpError{
			Index: opErr.Index,
			Key:   opErr.Key,
			Error: opErr.Err.Error(),
		})
	}

	statusCode := http.StatusOK
	if len(resp.Errors) > 0 {
		if resp.Applied == 0 {
			statusCode = http.StatusBadRequest
		} else {
			statusCode = http.StatusPartialContent
		}
	}
	h.writeJSONResponse(w, statusCode, resp)
}

// POST /api/v1/kv/batch/get
func (h *RESTHandler) BatchGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchGetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}

	values, err := h.store.GetMany(ctx, req.Keys)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get keys in batch")
		h.writeJSONResponse(w, statusForError(err), BatchGetResponse{
			Error: err.Error(),
		})
		return
	}

	h.writeJSONResponse(w, http.StatusOK, BatchGetResponse{
		Values: values,
		Count:  len(values),
	})
}

// POST /api/v1/query
func (h *RESTHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}

	q, err := buildQuery(req)
	if err != nil {
		h.writeJSONResponse(w, http.StatusBadRequest, QueryResponse{Error: err.Error()})
		return
	}

	result, err := h.executor.Execute(ctx, q)
	if err != nil {
		h.logger.QueryExecuted(ctx, string(h.store.Backend()), 0, false, 0, err)
		h.writeJSONResponse(w, statusForError(err), QueryResponse{Error: err.Error()})
		return
	}

	h.logger.QueryExecuted(ctx, string(h.store.Backend()), len(result.Rows), result.Meta.FromCache, result.Meta.ExecutionTime, nil)
	h.writeJSONResponse(w, http.StatusOK, QueryResponse{
		Rows:       result.Rows,
		Aggregates: result.Aggregates,
		Meta:       result.Meta,
	})
}

// buildQuery translates the wire form into an immutable query. Semantic
// validation (operators, field names) happens at execution.
func buildQuery(req QueryRequest) (query.Query, error) {
	b := query.NewBuilder()
	for _, c := range req.Conditions {
		switch query.Operator(c.Operator) {
		case query.OpEqual:
			b.WhereEqual(c.Field, c.Value)
		case query.OpGreaterThan:
			b.WhereGreaterThan(c.Field, c.Value)
		case query.OpGreaterThanOrEqual:
			b.WhereGreaterThanOrEqual(c.Field, c.Value)
		case query.OpLessThan:
			b.WhereLessThan(c.Field, c.Value)
		case query.OpLessThanOrEqual:
			b.WhereLessThanOrEqual(c.Field, c.Value)
		case query.OpBetween:
			b.WhereBetween(c.Field, c.Value, c.High)
		case query.OpContains:
			s, ok := c.Value.(string)
			if !ok {
				return query.Query{}, storage.NewError(storage.CodeQueryFailed, "contains condition on %q requires a string", c.Field)
			}
			b.WhereContains(c.Field, s)
		case query.OpIsNull:
			b.WhereNull(c.Field)
		case query.OpNotNull:
			b.WhereNotNull(c.Field)
		default:
			return query.Query{}, storage.NewError(storage.CodeQueryFailed, "unknown operator %q", c.Operator)
		}
	}
	for _, o := range req.OrderBy {
		b.OrderBy(o.Field, query.Direction(o.Direction))
	}
	if req.Limit != nil {
		b.Limit(*req.Limit)
	}
	if req.Offset > 0 {
		b.Offset(req.Offset)
	}
	for _, a := range req.Aggregations {
		switch query.AggregateFunc(a.Func) {
		case query.AggCount:
			b.Count()
		case query.AggSum:
			b.Sum(a.Field)
		case query.AggAvg:
			b.Avg(a.Field)
		case query.AggMin:
			b.Min(a.Field)
		case query.AggMax:
			b.Max(a.Field)
		default:
			return query.Query{}, storage.NewError(storage.CodeQueryFailed, "unknown aggregate function %q", a.Func)
		}
	}
	if len(req.GroupBy) > 0 {
		b.GroupBy(req.GroupBy...)
	}
	return b.Build(), nil
}

// GET /api/v1/graph/{id}/relationships
func (h *RESTHandler) GetRelationships(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nodeID := mux.Vars(r)["id"]

	if h.graph == nil {
		h.writeErrorResponse(w, http.StatusNotImplemented, "Relationships require the graph engine")
		return
	}

	edges, err := h.graph.GetRelationships(ctx, nodeID)
	if err != nil {
		h.logger.WithError(err).WithField("node_id", nodeID).Error("Failed to get relationships")
		h.writeJSONResponse(w, statusForError(err), RelationshipsResponse{
			NodeID: nodeID,
			Error:  err.Error(),
		})
		return
	}

	h.writeJSONResponse(w, http.StatusOK, RelationshipsResponse{
		NodeID: nodeID,
		Edges:  edges,
		Count:  len(edges),
	})
}

// GET /api/v1/health
func (h *RESTHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Processing health check request")

	h.writeJSONResponse(w, http.StatusOK, HealthResponse{
		Healthy:       true,
		Status:        "healthy",
		Backend:       string(h.store.Backend()),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Version:       "1.0.0",
		Timestamp:     time.Now().Unix(),
	})
}

// GET /api/v1/stats
func (h *RESTHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	size, err := h.store.Size(ctx)
	if err != nil {
		h.writeJSONResponse(w, statusForError(err), StatsResponse{
			Backend: string(h.store.Backend()),
			Error:   err.Error(),
		})
		return
	}

	h.writeJSONResponse(w, http.StatusOK, StatsResponse{
		Backend:   string(h.store.Backend()),
		TotalKeys: size,
	})
}

// Helper methods

func (h *RESTHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (h *RESTHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    statusCode,
		Message: http.StatusText(statusCode),
	})
}

// CORS middleware
func (h *RESTHandler) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
